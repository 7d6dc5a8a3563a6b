package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Category is a node of the self-referential catalog tree.
type Category struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name        string     `gorm:"column:name;not null;uniqueIndex:categories_name_key" json:"name"`
	Slug        string     `gorm:"column:slug;not null;uniqueIndex:categories_slug_key" json:"slug"`
	Description *string    `gorm:"column:description" json:"description,omitempty"`
	ParentID    *uuid.UUID `gorm:"column:parent_id;type:uuid;index:categories_parent_id_idx" json:"parentId,omitempty"`
	IsActive    bool       `gorm:"column:is_active;not null" json:"isActive"`
	Parent      *Category  `gorm:"foreignKey:ParentID" json:"parent,omitempty"`
	Children    []Category `gorm:"foreignKey:ParentID" json:"children,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Category) TableName() string { return "categories" }

func (Category) UniqueKeys() [][]string { return [][]string{{"name"}, {"slug"}} }

func (c *Category) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}
