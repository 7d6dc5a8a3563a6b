package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

// Stock is the inventory arithmetic shared by reservations and checkout. Every
// method must run on a transaction handle.
type Stock struct {
	inventory    *repo.Repository[models.ProductInventory]
	reservations *repo.Repository[models.InventoryReservation]
}

// StockOn binds the stock helpers to tx.
func StockOn(tx *gorm.DB) (*Stock, error) {
	inventory, err := repo.New[models.ProductInventory](tx)
	if err != nil {
		return nil, err
	}
	reservations, err := repo.New[models.InventoryReservation](tx)
	if err != nil {
		return nil, err
	}
	return &Stock{inventory: inventory, reservations: reservations}, nil
}

func (s *Stock) lock(ctx context.Context, productID uuid.UUID) (*models.ProductInventory, error) {
	return s.inventory.FindUniqueForUpdate(ctx, query.UniqueKey{"product_id": productID})
}

func (s *Stock) write(ctx context.Context, inv *models.ProductInventory, quantity, reserved int) error {
	if reserved < 0 {
		return pkgerrors.New(pkgerrors.CodeInternal, "reserved stock would go negative").
			WithDetails(map[string]any{"productId": inv.ProductID, "reserved": reserved})
	}
	_, err := s.inventory.Update(ctx, inv.ID, query.Data{"quantity": quantity, "reserved_quantity": reserved})
	return err
}

// release drops a hold and returns its quantity to available stock.
func (s *Stock) release(ctx context.Context, hold models.InventoryReservation) error {
	inv, err := s.lock(ctx, hold.ProductID)
	if err != nil {
		return err
	}
	if inv != nil {
		if err := s.write(ctx, inv, inv.Quantity, inv.ReservedQuantity-hold.Quantity); err != nil {
			return err
		}
	}
	_, err = s.reservations.DeleteMany(ctx, query.Eq("id", hold.ID).Ptr())
	return err
}

// commit turns a hold into stock leaving the warehouse.
func (s *Stock) commit(ctx context.Context, hold models.InventoryReservation) error {
	inv, err := s.lock(ctx, hold.ProductID)
	if err != nil {
		return err
	}
	if inv != nil {
		quantity := inv.Quantity - hold.Quantity
		if quantity < 0 {
			quantity = 0
		}
		if err := s.write(ctx, inv, quantity, inv.ReservedQuantity-hold.Quantity); err != nil {
			return err
		}
	}
	_, err = s.reservations.DeleteMany(ctx, query.Eq("id", hold.ID).Ptr())
	return err
}

// Consume takes quantity of productID out of stock for customerID. Live holds
// the customer has on the product are consumed first; any remainder must be
// available. Products without a stock row or with tracking off always succeed.
func (s *Stock) Consume(ctx context.Context, customerID, productID uuid.UUID, quantity int, now time.Time) error {
	inv, err := s.lock(ctx, productID)
	if err != nil {
		return err
	}
	holds, err := s.reservations.FindMany(ctx, query.FindManyArgs{
		Where: query.And(
			query.Eq("customer_id", customerID),
			query.Eq("product_id", productID),
			query.IsNull("order_id"),
			query.Gt("expires_at", now),
		).Ptr(),
	})
	if err != nil {
		return err
	}
	held := 0
	ids := make([]any, 0, len(holds))
	for _, hold := range holds {
		held += hold.Quantity
		ids = append(ids, hold.ID)
	}

	if inv != nil {
		if inv.TrackQuantity && inv.Available()+held < quantity {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
				WithDetails(map[string]any{"productId": productID, "requested": quantity, "available": inv.Available() + held})
		}
		remaining := inv.Quantity - quantity
		if remaining < 0 {
			remaining = 0
		}
		if err := s.write(ctx, inv, remaining, inv.ReservedQuantity-held); err != nil {
			return err
		}
	}
	if len(ids) > 0 {
		if _, err := s.reservations.DeleteMany(ctx, query.In("id", ids...).Ptr()); err != nil {
			return err
		}
	}
	return nil
}

// Restock returns quantity of productID to stock.
func (s *Stock) Restock(ctx context.Context, productID uuid.UUID, quantity int) error {
	inv, err := s.lock(ctx, productID)
	if err != nil || inv == nil {
		return err
	}
	return s.write(ctx, inv, inv.Quantity+quantity, inv.ReservedQuantity)
}

// ReleaseForOrder releases every hold attached to orderID and returns how many there were.
func (s *Stock) ReleaseForOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	holds, err := s.reservations.FindMany(ctx, query.FindManyArgs{Where: query.Eq("order_id", orderID).Ptr()})
	if err != nil {
		return 0, err
	}
	for _, hold := range holds {
		if err := s.release(ctx, hold); err != nil {
			return 0, err
		}
	}
	return len(holds), nil
}
