package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductReview is one customer's rating of a product.
type ProductReview struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProductID  uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:product_reviews_product_customer_key,priority:1" json:"productId"`
	CustomerID uuid.UUID `gorm:"column:customer_id;type:uuid;not null;uniqueIndex:product_reviews_product_customer_key,priority:2" json:"customerId"`
	Rating     int       `gorm:"column:rating;not null" json:"rating"`
	Title      *string   `gorm:"column:title" json:"title,omitempty"`
	Review     *string   `gorm:"column:review" json:"review,omitempty"`
	IsVerified bool      `gorm:"column:is_verified;not null" json:"isVerified"`
	IsActive   bool      `gorm:"column:is_active;not null" json:"isActive"`
	Product    *Product  `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (ProductReview) TableName() string { return "product_reviews" }

func (ProductReview) UniqueKeys() [][]string { return [][]string{{"product_id", "customer_id"}} }

func (r *ProductReview) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
