package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Wishlist holds the products a customer saved for later.
type Wishlist struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CustomerID uuid.UUID      `gorm:"column:customer_id;type:uuid;not null;uniqueIndex:wishlists_customer_id_key" json:"customerId"`
	Items      []WishlistItem `gorm:"foreignKey:WishlistID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Wishlist) TableName() string { return "wishlists" }

func (Wishlist) UniqueKeys() [][]string { return [][]string{{"customer_id"}} }

func (w *Wishlist) BeforeCreate(*gorm.DB) error {
	assignID(&w.ID)
	return nil
}

// WishlistItem links a wishlist to a product.
type WishlistItem struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	WishlistID uuid.UUID `gorm:"column:wishlist_id;type:uuid;not null;uniqueIndex:wishlist_items_wishlist_product_key,priority:1" json:"wishlistId"`
	ProductID  uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:wishlist_items_wishlist_product_key,priority:2" json:"productId"`
	Product    *Product  `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	AddedAt    time.Time `gorm:"column:added_at;autoCreateTime" json:"addedAt"`
}

func (WishlistItem) TableName() string { return "wishlist_items" }

func (WishlistItem) UniqueKeys() [][]string { return [][]string{{"wishlist_id", "product_id"}} }

func (i *WishlistItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
