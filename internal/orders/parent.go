package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

// ItemParent says which records own an order item. It is one of
// BelongsToOrder, BelongsToVendorOrder or BelongsToBoth.
type ItemParent interface {
	isItemParent()
	orderID() *uuid.UUID
	vendorOrderID() *uuid.UUID
}

type BelongsToOrder struct {
	OrderID uuid.UUID
}

type BelongsToVendorOrder struct {
	VendorOrderID uuid.UUID
}

// BelongsToBoth requires the vendor order to be a slice of the order.
type BelongsToBoth struct {
	OrderID       uuid.UUID
	VendorOrderID uuid.UUID
}

func (BelongsToOrder) isItemParent()       {}
func (BelongsToVendorOrder) isItemParent() {}
func (BelongsToBoth) isItemParent()        {}

func (p BelongsToOrder) orderID() *uuid.UUID             { return &p.OrderID }
func (BelongsToOrder) vendorOrderID() *uuid.UUID         { return nil }
func (BelongsToVendorOrder) orderID() *uuid.UUID         { return nil }
func (p BelongsToVendorOrder) vendorOrderID() *uuid.UUID { return &p.VendorOrderID }
func (p BelongsToBoth) orderID() *uuid.UUID              { return &p.OrderID }
func (p BelongsToBoth) vendorOrderID() *uuid.UUID        { return &p.VendorOrderID }

// ParentOf reads the parent of item. An item with neither id set is invalid.
func ParentOf(item models.OrderItem) (ItemParent, error) {
	hasOrder := item.OrderID != nil && *item.OrderID != uuid.Nil
	hasVendorOrder := item.VendorOrderID != nil && *item.VendorOrderID != uuid.Nil
	switch {
	case hasOrder && hasVendorOrder:
		return BelongsToBoth{OrderID: *item.OrderID, VendorOrderID: *item.VendorOrderID}, nil
	case hasOrder:
		return BelongsToOrder{OrderID: *item.OrderID}, nil
	case hasVendorOrder:
		return BelongsToVendorOrder{VendorOrderID: *item.VendorOrderID}, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "order item must belong to an order or a vendor order").
		WithDetails(map[string]any{"orderItemId": item.ID})
}

// Apply writes parent onto item, clearing the id the variant does not carry.
func Apply(item *models.OrderItem, parent ItemParent) error {
	if parent == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order item parent is required")
	}
	item.OrderID = parent.orderID()
	item.VendorOrderID = parent.vendorOrderID()
	return nil
}

// verifyParent checks that the records named by parent exist and agree.
func verifyParent(ctx context.Context, tx *gorm.DB, parent ItemParent) error {
	switch p := parent.(type) {
	case BelongsToOrder:
		return exists(ctx, tx, &models.Order{}, p.OrderID, "Order")
	case BelongsToVendorOrder:
		return exists(ctx, tx, &models.VendorOrder{}, p.VendorOrderID, "VendorOrder")
	case BelongsToBoth:
		var vo models.VendorOrder
		err := tx.WithContext(ctx).Select("id", "order_id").Take(&vo, "id = ?", p.VendorOrderID).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.NotFound("VendorOrder")
			}
			return err
		}
		if vo.OrderID != p.OrderID {
			return pkgerrors.New(pkgerrors.CodeValidation, "vendor order belongs to another order").
				WithDetails(map[string]any{"orderId": p.OrderID, "vendorOrderId": p.VendorOrderID})
		}
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "order item parent is required")
}

func exists(ctx context.Context, tx *gorm.DB, model any, id uuid.UUID, entity string) error {
	var count int64
	if err := tx.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return pkgerrors.NotFound(entity)
	}
	return nil
}
