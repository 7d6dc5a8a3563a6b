package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

// Order is the customer-facing checkout record.
type Order struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CustomerID      uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index:orders_customer_id_idx" json:"customerId"`
	Status          enums.OrderStatus   `gorm:"column:status;type:order_status;not null" json:"status"`
	Subtotal        decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null" json:"subtotal"`
	Tax             decimal.Decimal     `gorm:"column:tax;type:numeric(12,2);not null" json:"tax"`
	Shipping        decimal.Decimal     `gorm:"column:shipping;type:numeric(12,2);not null" json:"shipping"`
	Total           decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null" json:"total"`
	ShippingAddress types.Address       `gorm:"column:shipping_address;type:jsonb;not null" json:"shippingAddress"`
	PaymentMethod   string              `gorm:"column:payment_method;not null" json:"paymentMethod"`
	PaymentStatus   enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null" json:"paymentStatus"`
	PaymentIntentID *string             `gorm:"column:payment_intent_id;uniqueIndex:orders_payment_intent_id_key" json:"paymentIntentId,omitempty"`
	Notes           *string             `gorm:"column:notes" json:"notes,omitempty"`
	Items           []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	VendorOrders    []VendorOrder       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"vendorOrders,omitempty"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Order) TableName() string { return "orders" }

func (Order) UniqueKeys() [][]string { return [][]string{{"payment_intent_id"}} }

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// VendorOrder is the slice of an order fulfilled by one vendor.
type VendorOrder struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID           uuid.UUID         `gorm:"column:order_id;type:uuid;not null;uniqueIndex:vendor_orders_order_vendor_key,priority:1" json:"orderId"`
	VendorID          uuid.UUID         `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex:vendor_orders_order_vendor_key,priority:2;index:vendor_orders_vendor_id_idx" json:"vendorId"`
	Status            enums.OrderStatus `gorm:"column:status;type:order_status;not null" json:"status"`
	Subtotal          decimal.Decimal   `gorm:"column:subtotal;type:numeric(12,2);not null" json:"subtotal"`
	Shipping          decimal.Decimal   `gorm:"column:shipping;type:numeric(12,2);not null" json:"shipping"`
	Total             decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null" json:"total"`
	TrackingNumber    *string           `gorm:"column:tracking_number" json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time        `gorm:"column:estimated_delivery" json:"estimatedDelivery,omitempty"`
	Notes             *string           `gorm:"column:notes" json:"notes,omitempty"`
	Order             *Order            `gorm:"foreignKey:OrderID" json:"order,omitempty"`
	Vendor            *Vendor           `gorm:"foreignKey:VendorID" json:"vendor,omitempty"`
	Items             []OrderItem       `gorm:"foreignKey:VendorOrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (VendorOrder) TableName() string { return "vendor_orders" }

func (VendorOrder) UniqueKeys() [][]string { return [][]string{{"order_id", "vendor_id"}} }

func (v *VendorOrder) BeforeCreate(*gorm.DB) error {
	assignID(&v.ID)
	return nil
}

// OrderItem is a purchased line. At least one of OrderID and VendorOrderID is set;
// use orders.ParentOf to read the combination.
type OrderItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID       *uuid.UUID      `gorm:"column:order_id;type:uuid;index:order_items_order_id_idx" json:"orderId,omitempty"`
	VendorOrderID *uuid.UUID      `gorm:"column:vendor_order_id;type:uuid;index:order_items_vendor_order_id_idx" json:"vendorOrderId,omitempty"`
	ProductID     uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index:order_items_product_id_idx" json:"productId"`
	Quantity      int             `gorm:"column:quantity;not null" json:"quantity"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	Product       *Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (OrderItem) TableName() string { return "order_items" }

func (OrderItem) UniqueKeys() [][]string { return nil }

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// LineTotal is price times quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
