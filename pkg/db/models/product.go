package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

// Product is a vendor listing. Prices are numeric(12,2).
type Product struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Name           string                 `gorm:"column:name;not null" json:"name"`
	Description    string                 `gorm:"column:description;not null" json:"description"`
	Price          decimal.Decimal        `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	ComparePrice   decimal.NullDecimal    `gorm:"column:compare_price;type:numeric(12,2)" json:"comparePrice"`
	SKU            *string                `gorm:"column:sku;uniqueIndex:products_sku_key" json:"sku,omitempty"`
	Category       string                 `gorm:"column:category;not null;index:products_category_idx" json:"category"`
	Subcategory    *string                `gorm:"column:subcategory" json:"subcategory,omitempty"`
	Brand          *string                `gorm:"column:brand" json:"brand,omitempty"`
	Images         []string               `gorm:"column:images;type:jsonb;serializer:json;not null" json:"images"`
	Specifications types.JSONMap          `gorm:"column:specifications;type:jsonb" json:"specifications,omitempty"`
	VendorID       uuid.UUID              `gorm:"column:vendor_id;type:uuid;not null;index:products_vendor_id_idx" json:"vendorId"`
	IsActive       bool                   `gorm:"column:is_active;not null" json:"isActive"`
	Rating         decimal.NullDecimal    `gorm:"column:rating;type:numeric(3,2)" json:"rating"`
	ReviewCount    int                    `gorm:"column:review_count;not null" json:"reviewCount"`
	Vendor         *Vendor                `gorm:"foreignKey:VendorID" json:"vendor,omitempty"`
	Inventory      *ProductInventory      `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"inventory,omitempty"`
	Reservations   []InventoryReservation `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"reservations,omitempty"`
	OrderItems     []OrderItem            `gorm:"foreignKey:ProductID;constraint:OnDelete:RESTRICT" json:"orderItems,omitempty"`
	Reviews        []ProductReview        `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"reviews,omitempty"`
	CartItems      []CartItem             `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"cartItems,omitempty"`
	WishlistItems  []WishlistItem         `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"wishlistItems,omitempty"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Product) TableName() string { return "products" }

func (Product) UniqueKeys() [][]string { return [][]string{{"sku"}} }

func (p *Product) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	if p.Images == nil {
		p.Images = []string{}
	}
	return nil
}

// ProductInventory is the one-to-one stock row of a product.
type ProductInventory struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:product_inventory_product_id_key" json:"productId"`
	Quantity          int       `gorm:"column:quantity;not null" json:"quantity"`
	ReservedQuantity  int       `gorm:"column:reserved_quantity;not null" json:"reservedQuantity"`
	LowStockThreshold int       `gorm:"column:low_stock_threshold;not null" json:"lowStockThreshold"`
	TrackQuantity     bool      `gorm:"column:track_quantity;not null" json:"trackQuantity"`
	Product           *Product  `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (ProductInventory) TableName() string { return "product_inventory" }

func (ProductInventory) UniqueKeys() [][]string { return [][]string{{"product_id"}} }

func (i *ProductInventory) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// Available is the stock not held by reservations.
func (i ProductInventory) Available() int {
	return i.Quantity - i.ReservedQuantity
}

// LowStock reports whether available stock is at or under the threshold.
func (i ProductInventory) LowStock() bool {
	return i.TrackQuantity && i.Available() <= i.LowStockThreshold
}

// InventoryReservation is a time-boxed hold against a product's stock.
type InventoryReservation struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProductID  uuid.UUID  `gorm:"column:product_id;type:uuid;not null;index:inventory_reservations_product_id_idx" json:"productId"`
	Quantity   int        `gorm:"column:quantity;not null" json:"quantity"`
	CustomerID uuid.UUID  `gorm:"column:customer_id;type:uuid;not null;index:inventory_reservations_customer_id_idx" json:"customerId"`
	OrderID    *uuid.UUID `gorm:"column:order_id;type:uuid" json:"orderId,omitempty"`
	SessionID  *string    `gorm:"column:session_id" json:"sessionId,omitempty"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null;index:inventory_reservations_expires_at_idx" json:"expiresAt"`
	Product    *Product   `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (InventoryReservation) TableName() string { return "inventory_reservations" }

func (InventoryReservation) UniqueKeys() [][]string { return nil }

func (r *InventoryReservation) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// Expired reports whether the hold lapsed at now.
func (r InventoryReservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
