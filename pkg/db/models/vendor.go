package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

// Vendor is a seller on the marketplace.
type Vendor struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name        string              `gorm:"column:name;not null" json:"name"`
	Email       string              `gorm:"column:email;not null;uniqueIndex:vendors_email_key" json:"email"`
	Phone       *string             `gorm:"column:phone" json:"phone,omitempty"`
	Address     *types.Address      `gorm:"column:address;type:jsonb" json:"address,omitempty"`
	Description *string             `gorm:"column:description" json:"description,omitempty"`
	IsActive    bool                `gorm:"column:is_active;not null" json:"isActive"`
	IsVerified  bool                `gorm:"column:is_verified;not null" json:"isVerified"`
	Rating      decimal.NullDecimal `gorm:"column:rating;type:numeric(3,2)" json:"rating"`
	ReviewCount int                 `gorm:"column:review_count;not null" json:"reviewCount"`
	Products    []Product           `gorm:"foreignKey:VendorID" json:"products,omitempty"`
	Analytics   []VendorAnalytics   `gorm:"foreignKey:VendorID;constraint:OnDelete:CASCADE" json:"analytics,omitempty"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Vendor) TableName() string { return "vendors" }

func (Vendor) UniqueKeys() [][]string { return [][]string{{"email"}} }

func (v *Vendor) BeforeCreate(*gorm.DB) error {
	assignID(&v.ID)
	return nil
}
