package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/reservations"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

type TransitionInput struct {
	OrderID uuid.UUID
	To      enums.OrderStatus
	Reason  string
	Actor   *outbox.ActorRef
}

// VendorTransitionInput moves one vendor order. When VendorID is set the vendor
// order must belong to that vendor.
type VendorTransitionInput struct {
	VendorOrderID     uuid.UUID
	VendorID          *uuid.UUID
	To                enums.OrderStatus
	TrackingNumber    *string
	EstimatedDelivery *time.Time
	Actor             *outbox.ActorRef
}

type PaymentInput struct {
	OrderID         uuid.UUID
	To              enums.PaymentStatus
	PaymentIntentID *string
	Actor           *outbox.ActorRef
}

func (s *service) TransitionOrder(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status").
			WithDetails(map[string]any{"status": input.To})
	}
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.orders.WithTx(tx).FindUniqueForUpdate(ctx, query.ByID(input.OrderID))
		if err != nil {
			return err
		}
		if current == nil {
			return pkgerrors.NotFound("Order")
		}
		order = current
		if current.Status == input.To {
			return nil
		}
		if !current.Status.CanTransitionTo(input.To) {
			return illegalTransition(current.Status, input.To)
		}
		if input.To.RequiresPayment() && current.PaymentStatus != enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order must be paid first").
				WithDetails(map[string]any{"status": input.To, "paymentStatus": current.PaymentStatus})
		}

		var live []models.VendorOrder
		if input.To == enums.OrderStatusCancelled {
			if live, err = s.cancellableVendorOrders(ctx, tx, current.ID); err != nil {
				return err
			}
		}

		data := query.Data{"status": input.To}
		refundPayment := input.To == enums.OrderStatusRefunded ||
			(input.To == enums.OrderStatusCancelled && current.PaymentStatus == enums.PaymentStatusPaid)
		if refundPayment {
			data["payment_status"] = enums.PaymentStatusRefunded
		}
		updated, err := s.orders.WithTx(tx).Update(ctx, current.ID, data)
		if err != nil {
			return err
		}

		if input.To == enums.OrderStatusCancelled {
			cancelled, err := s.cancelVendorOrders(ctx, tx, updated, live, input.Actor)
			if err != nil {
				return err
			}
			if err := s.returnStock(ctx, tx, updated.ID, cancelled); err != nil {
				return err
			}
		}
		if refundPayment {
			if err := s.emitPayment(ctx, tx, updated, current.PaymentStatus, input.Actor); err != nil {
				return err
			}
		}
		if err := s.emitOrderStatus(ctx, tx, updated, current.Status, input.Reason, input.Actor); err != nil {
			return err
		}
		order = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, "order", order.ID, order.Status)
	return order, nil
}

// cancellableVendorOrders returns the order's non-terminal vendor orders. Once
// any of them has shipped the order can no longer be cancelled.
func (s *service) cancellableVendorOrders(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.VendorOrder, error) {
	vos, err := s.vendorOrders.WithTx(tx).FindMany(ctx, query.FindManyArgs{
		Where: query.Eq("order_id", orderID).Ptr(),
	})
	if err != nil {
		return nil, err
	}
	live := make([]models.VendorOrder, 0, len(vos))
	for _, vo := range vos {
		if vo.Status.IsTerminal() {
			continue
		}
		if !vo.Status.CanTransitionTo(enums.OrderStatusCancelled) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a vendor order has already shipped").
				WithDetails(map[string]any{"vendorOrderId": vo.ID, "status": vo.Status})
		}
		live = append(live, vo)
	}
	return live, nil
}

// cancelVendorOrders moves vos to CANCELLED and returns their ids.
func (s *service) cancelVendorOrders(ctx context.Context, tx *gorm.DB, order *models.Order, vos []models.VendorOrder, actor *outbox.ActorRef) (map[uuid.UUID]bool, error) {
	cancelled := make(map[uuid.UUID]bool, len(vos))
	for _, vo := range vos {
		if _, err := s.vendorOrders.WithTx(tx).Update(ctx, vo.ID, query.Data{"status": enums.OrderStatusCancelled}); err != nil {
			return nil, err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventVendorOrderStatusChanged,
			AggregateType: enums.AggregateVendorOrder,
			AggregateID:   vo.ID,
			Actor:         actor,
			Data: payloads.VendorOrderStatusChangedEvent{
				VendorOrderID: vo.ID,
				OrderID:       order.ID,
				VendorID:      vo.VendorID,
				From:          vo.Status,
				To:            enums.OrderStatusCancelled,
			},
		}); err != nil {
			return nil, err
		}
		cancelled[vo.ID] = true
	}
	return cancelled, nil
}

// returnStock puts back the lines of the given vendor orders plus the lines
// tied only to the order, and drops holds attached to the order. Lines of vendor
// orders cancelled earlier were restocked at that point.
func (s *service) returnStock(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, vendorOrders map[uuid.UUID]bool) error {
	items, err := s.itemsOf(ctx, tx, orderID)
	if err != nil {
		return err
	}
	stock, err := reservations.StockOn(tx)
	if err != nil {
		return err
	}
	if err := restock(ctx, stock, stockedLines(items, vendorOrders)); err != nil {
		return err
	}
	_, err = stock.ReleaseForOrder(ctx, orderID)
	return err
}

func stockedLines(items []models.OrderItem, vendorOrders map[uuid.UUID]bool) []models.OrderItem {
	lines := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		if item.VendorOrderID == nil || vendorOrders[*item.VendorOrderID] {
			lines = append(lines, item)
		}
	}
	return lines
}

func (s *service) TransitionVendorOrder(ctx context.Context, input VendorTransitionInput) (*models.VendorOrder, error) {
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status").
			WithDetails(map[string]any{"status": input.To})
	}
	if input.To == enums.OrderStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refunds apply to the whole order")
	}
	var vendorOrder *models.VendorOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.vendorOrders.WithTx(tx).FindUniqueForUpdate(ctx, query.ByID(input.VendorOrderID))
		if err != nil {
			return err
		}
		if current == nil || (input.VendorID != nil && *input.VendorID != current.VendorID) {
			return pkgerrors.NotFound("VendorOrder")
		}
		vendorOrder = current
		if current.Status == input.To {
			return nil
		}
		if !current.Status.CanTransitionTo(input.To) {
			return illegalTransition(current.Status, input.To)
		}

		parent, err := s.orders.WithTx(tx).FindUniqueForUpdate(ctx, query.ByID(current.OrderID))
		if err != nil {
			return err
		}
		if parent == nil {
			return pkgerrors.NotFound("Order")
		}
		if input.To != enums.OrderStatusCancelled && !parent.Status.AtLeast(enums.OrderStatusConfirmed) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not confirmed").
				WithDetails(map[string]any{"orderStatus": parent.Status})
		}
		if input.To.RequiresPayment() && parent.PaymentStatus != enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order must be paid first").
				WithDetails(map[string]any{"status": input.To, "paymentStatus": parent.PaymentStatus})
		}

		data := query.Data{"status": input.To}
		if input.TrackingNumber != nil {
			if tracking := strings.TrimSpace(*input.TrackingNumber); tracking != "" {
				data["tracking_number"] = tracking
			}
		}
		if input.EstimatedDelivery != nil {
			data["estimated_delivery"] = input.EstimatedDelivery.UTC()
		}
		updated, err := s.vendorOrders.WithTx(tx).Update(ctx, current.ID, data)
		if err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventVendorOrderStatusChanged,
			AggregateType: enums.AggregateVendorOrder,
			AggregateID:   updated.ID,
			Actor:         input.Actor,
			Data: payloads.VendorOrderStatusChangedEvent{
				VendorOrderID:     updated.ID,
				OrderID:           updated.OrderID,
				VendorID:          updated.VendorID,
				From:              current.Status,
				To:                updated.Status,
				TrackingNumber:    updated.TrackingNumber,
				EstimatedDelivery: updated.EstimatedDelivery,
			},
		}); err != nil {
			return err
		}
		switch input.To {
		case enums.OrderStatusDelivered:
			if err := s.deliverIfComplete(ctx, tx, parent, input.Actor); err != nil {
				return err
			}
		case enums.OrderStatusCancelled:
			if err := s.restockVendorOrder(ctx, tx, updated.ID); err != nil {
				return err
			}
		}
		vendorOrder = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, "vendor_order", vendorOrder.ID, vendorOrder.Status)
	return vendorOrder, nil
}

func (s *service) restockVendorOrder(ctx context.Context, tx *gorm.DB, vendorOrderID uuid.UUID) error {
	items, err := s.items.WithTx(tx).FindMany(ctx, query.FindManyArgs{
		Where: query.Eq("vendor_order_id", vendorOrderID).Ptr(),
	})
	if err != nil {
		return err
	}
	stock, err := reservations.StockOn(tx)
	if err != nil {
		return err
	}
	return restock(ctx, stock, items)
}

// deliverIfComplete marks the order DELIVERED once every live vendor order is.
// Cancelled vendor orders do not hold the order back.
func (s *service) deliverIfComplete(ctx context.Context, tx *gorm.DB, order *models.Order, actor *outbox.ActorRef) error {
	if order.Status == enums.OrderStatusDelivered || order.Status.IsTerminal() {
		return nil
	}
	vos, err := s.vendorOrders.WithTx(tx).FindMany(ctx, query.FindManyArgs{
		Where:  query.Eq("order_id", order.ID).Ptr(),
		Select: []string{"id", "status"},
	})
	if err != nil {
		return err
	}
	delivered := 0
	for _, vo := range vos {
		switch vo.Status {
		case enums.OrderStatusDelivered:
			delivered++
		case enums.OrderStatusCancelled:
		default:
			return nil
		}
	}
	if delivered == 0 {
		return nil
	}
	updated, err := s.orders.WithTx(tx).Update(ctx, order.ID, query.Data{"status": enums.OrderStatusDelivered})
	if err != nil {
		return err
	}
	return s.emitOrderStatus(ctx, tx, updated, order.Status, "all vendor orders delivered", actor)
}

func (s *service) UpdatePaymentStatus(ctx context.Context, input PaymentInput) (*models.Order, error) {
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status").
			WithDetails(map[string]any{"paymentStatus": input.To})
	}
	if input.To == enums.PaymentStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund the order to refund its payment")
	}
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.orders.WithTx(tx).FindUniqueForUpdate(ctx, query.ByID(input.OrderID))
		if err != nil {
			return err
		}
		if current == nil {
			return pkgerrors.NotFound("Order")
		}
		order = current
		if current.PaymentStatus == input.To {
			return nil
		}
		if current.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is closed").
				WithDetails(map[string]any{"status": current.Status})
		}
		if !current.PaymentStatus.CanTransitionTo(input.To) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal payment transition").
				WithDetails(map[string]any{"from": current.PaymentStatus, "to": input.To})
		}
		data := query.Data{"payment_status": input.To}
		if input.PaymentIntentID != nil {
			if intent := strings.TrimSpace(*input.PaymentIntentID); intent != "" {
				data["payment_intent_id"] = intent
			}
		}
		updated, err := s.orders.WithTx(tx).Update(ctx, current.ID, data)
		if err != nil {
			return err
		}
		if err := s.emitPayment(ctx, tx, updated, current.PaymentStatus, input.Actor); err != nil {
			return err
		}
		order = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, "payment", order.ID, order.PaymentStatus)
	return order, nil
}

func (s *service) emitOrderStatus(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus, reason string, actor *outbox.ActorRef) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			From:       from,
			To:         order.Status,
			Reason:     strings.TrimSpace(reason),
		},
	})
}

func (s *service) emitPayment(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.PaymentStatus, actor *outbox.ActorRef) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.PaymentStatusChangedEvent{
			OrderID:         order.ID,
			From:            from,
			To:              order.PaymentStatus,
			PaymentIntentID: order.PaymentIntentID,
			Amount:          order.Total,
		},
	})
}

func (s *service) logTransition(ctx context.Context, kind string, id uuid.UUID, to fmt.Stringer) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"kind": kind,
		"id":   id.String(),
		"to":   to.String(),
	})
	s.logg.Info(ctx, "status updated")
}

func illegalTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal status transition").
		WithDetails(map[string]any{"from": from, "to": to})
}
