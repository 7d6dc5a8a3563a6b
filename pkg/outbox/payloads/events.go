package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once per placed order.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID       `json:"orderId"`
	CustomerID     uuid.UUID       `json:"customerId"`
	VendorOrderIDs []uuid.UUID     `json:"vendorOrderIds"`
	ItemCount      int             `json:"itemCount"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"paymentMethod"`
}

// OrderStatusChangedEvent is emitted on every order transition.
type OrderStatusChangedEvent struct {
	OrderID    uuid.UUID         `json:"orderId"`
	CustomerID uuid.UUID         `json:"customerId"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
	Reason     string            `json:"reason,omitempty"`
}

// VendorOrderStatusChangedEvent is emitted on every vendor order transition.
type VendorOrderStatusChangedEvent struct {
	VendorOrderID     uuid.UUID         `json:"vendorOrderId"`
	OrderID           uuid.UUID         `json:"orderId"`
	VendorID          uuid.UUID         `json:"vendorId"`
	From              enums.OrderStatus `json:"from"`
	To                enums.OrderStatus `json:"to"`
	TrackingNumber    *string           `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time        `json:"estimatedDelivery,omitempty"`
}

type PaymentStatusChangedEvent struct {
	OrderID         uuid.UUID           `json:"orderId"`
	From            enums.PaymentStatus `json:"from"`
	To              enums.PaymentStatus `json:"to"`
	PaymentIntentID *string             `json:"paymentIntentId,omitempty"`
	Amount          decimal.Decimal     `json:"amount"`
}

// ReservationExpiredEvent is emitted when the sweeper releases a stale hold.
type ReservationExpiredEvent struct {
	ReservationID uuid.UUID `json:"reservationId"`
	ProductID     uuid.UUID `json:"productId"`
	CustomerID    uuid.UUID `json:"customerId"`
	Quantity      int       `json:"quantity"`
	ExpiredAt     time.Time `json:"expiredAt"`
}

type ProductDeletedEvent struct {
	ProductID uuid.UUID `json:"productId"`
	VendorID  uuid.UUID `json:"vendorId"`
	SKU       *string   `json:"sku,omitempty"`
}
