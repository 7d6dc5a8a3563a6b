package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ShoppingCart is the single open cart of a customer.
type ShoppingCart struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CustomerID uuid.UUID  `gorm:"column:customer_id;type:uuid;not null;uniqueIndex:shopping_carts_customer_id_key" json:"customerId"`
	Items      []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (ShoppingCart) TableName() string { return "shopping_carts" }

func (ShoppingCart) UniqueKeys() [][]string { return [][]string{{"customer_id"}} }

func (c *ShoppingCart) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

// CartItem snapshots the product price at the time it was added.
type CartItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CartID    uuid.UUID       `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:cart_items_cart_product_key,priority:1" json:"cartId"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:cart_items_cart_product_key,priority:2" json:"productId"`
	Quantity  int             `gorm:"column:quantity;not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	Cart      *ShoppingCart   `gorm:"foreignKey:CartID" json:"cart,omitempty"`
	Product   *Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	AddedAt   time.Time       `gorm:"column:added_at;autoCreateTime" json:"addedAt"`
}

func (CartItem) TableName() string { return "cart_items" }

func (CartItem) UniqueKeys() [][]string { return [][]string{{"cart_id", "product_id"}} }

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// LineTotal is price times quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
