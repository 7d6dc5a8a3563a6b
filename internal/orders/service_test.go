package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

type fixture struct {
	svc      Service
	conn     *gorm.DB
	customer uuid.UUID
	widget   models.Product
	gadget   models.Product
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &fixture{conn: conn, customer: uuid.New(), now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}

	svc, err := NewService(Params{
		DB:                conn,
		Tx:                dbpkg.NewFromConn(conn, dbpkg.TxOptions{}),
		Outbox:            outbox.NewService(outbox.NewRepository(conn), nil),
		TaxRate:           decimal.RequireFromString("0.08"),
		ShippingPerVendor: decimal.NewFromInt(5),
		Clock:             func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.svc = svc

	acme := models.Vendor{Name: "Acme", Email: "acme@example.com", IsActive: true}
	globex := models.Vendor{Name: "Globex", Email: "globex@example.com", IsActive: true}
	require.NoError(t, conn.Create(&acme).Error)
	require.NoError(t, conn.Create(&globex).Error)

	f.widget = models.Product{Name: "Widget", Price: decimal.NewFromInt(10), Category: "tools", VendorID: acme.ID, IsActive: true}
	f.gadget = models.Product{Name: "Gadget", Price: decimal.RequireFromString("4.50"), Category: "tools", VendorID: globex.ID, IsActive: true}
	require.NoError(t, conn.Create(&f.widget).Error)
	require.NoError(t, conn.Create(&f.gadget).Error)
	require.NoError(t, conn.Create(&models.ProductInventory{ProductID: f.widget.ID, Quantity: 5, TrackQuantity: true}).Error)
	require.NoError(t, conn.Create(&models.ProductInventory{ProductID: f.gadget.ID, Quantity: 10, TrackQuantity: true}).Error)
	return f
}

func (f *fixture) fillCart(t *testing.T, lines map[uuid.UUID]int) {
	t.Helper()
	cart := models.ShoppingCart{CustomerID: f.customer}
	require.NoError(t, f.conn.Where("customer_id = ?", f.customer).FirstOrCreate(&cart).Error)
	for productID, qty := range lines {
		require.NoError(t, f.conn.Create(&models.CartItem{CartID: cart.ID, ProductID: productID, Quantity: qty, Price: decimal.NewFromInt(1)}).Error)
	}
}

func (f *fixture) stock(t *testing.T, productID uuid.UUID) models.ProductInventory {
	t.Helper()
	var inv models.ProductInventory
	require.NoError(t, f.conn.First(&inv, "product_id = ?", productID).Error)
	return inv
}

func (f *fixture) place(t *testing.T) *models.Order {
	t.Helper()
	f.fillCart(t, map[uuid.UUID]int{f.widget.ID: 2, f.gadget.ID: 3})
	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID:      f.customer,
		ShippingAddress: shippingAddress(),
		PaymentMethod:   "card",
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) events(t *testing.T, eventType enums.OutboxEventType) []models.OutboxEvent {
	t.Helper()
	var events []models.OutboxEvent
	require.NoError(t, f.conn.Where("event_type = ?", eventType).Find(&events).Error)
	return events
}

func shippingAddress() types.Address {
	return types.Address{Line1: " 1 Main St ", City: "Austin", State: "TX", PostalCode: "78701"}
}

func TestPlaceOrderSplitsByVendor(t *testing.T) {
	f := newFixture(t)
	order := f.place(t)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, "33.50", order.Subtotal.StringFixed(2))
	assert.Equal(t, "2.68", order.Tax.StringFixed(2))
	assert.Equal(t, "10.00", order.Shipping.StringFixed(2))
	assert.Equal(t, "46.18", order.Total.StringFixed(2))
	assert.Equal(t, "1 Main St", order.ShippingAddress.Line1)
	assert.Equal(t, "US", order.ShippingAddress.Country)
	require.Len(t, order.VendorOrders, 2)

	for _, vo := range order.VendorOrders {
		require.Len(t, vo.Items, 1)
		item := vo.Items[0]
		parent, err := ParentOf(item)
		require.NoError(t, err)
		assert.Equal(t, BelongsToBoth{OrderID: order.ID, VendorOrderID: vo.ID}, parent)
		if item.ProductID == f.widget.ID {
			assert.Equal(t, "20.00", vo.Subtotal.StringFixed(2))
			assert.Equal(t, "10.00", item.Price.StringFixed(2), "priced at the product, not the cart snapshot")
		} else {
			assert.Equal(t, "13.50", vo.Subtotal.StringFixed(2))
		}
	}

	assert.Equal(t, 3, f.stock(t, f.widget.ID).Quantity)
	assert.Equal(t, 7, f.stock(t, f.gadget.ID).Quantity)

	var remaining int64
	require.NoError(t, f.conn.Model(&models.CartItem{}).Count(&remaining).Error)
	assert.Zero(t, remaining)
	assert.Len(t, f.events(t, enums.EventOrderCreated), 1)
}

func TestPlaceOrderConsumesOwnHolds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.conn.Model(&models.ProductInventory{}).
		Where("product_id = ?", f.widget.ID).Update("reserved_quantity", 2).Error)
	require.NoError(t, f.conn.Create(&models.InventoryReservation{
		ProductID: f.widget.ID, CustomerID: f.customer, Quantity: 2, ExpiresAt: f.now.Add(time.Minute),
	}).Error)

	f.place(t)

	inv := f.stock(t, f.widget.ID)
	assert.Equal(t, 3, inv.Quantity)
	assert.Zero(t, inv.ReservedQuantity)
	var holds int64
	require.NoError(t, f.conn.Model(&models.InventoryReservation{}).Count(&holds).Error)
	assert.Zero(t, holds)
}

func TestPlaceOrderFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{CustomerID: f.customer, ShippingAddress: shippingAddress(), PaymentMethod: "card"})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	})

	t.Run("bad address", func(t *testing.T) {
		f := newFixture(t)
		f.fillCart(t, map[uuid.UUID]int{f.widget.ID: 1})
		_, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{CustomerID: f.customer, ShippingAddress: types.Address{City: "Austin"}, PaymentMethod: "card"})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	})

	t.Run("insufficient stock rolls back", func(t *testing.T) {
		f := newFixture(t)
		f.fillCart(t, map[uuid.UUID]int{f.widget.ID: 6, f.gadget.ID: 1})
		_, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{CustomerID: f.customer, ShippingAddress: shippingAddress(), PaymentMethod: "card"})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))

		assert.Equal(t, 10, f.stock(t, f.gadget.ID).Quantity)
		var orders int64
		require.NoError(t, f.conn.Model(&models.Order{}).Count(&orders).Error)
		assert.Zero(t, orders)
		var lines int64
		require.NoError(t, f.conn.Model(&models.CartItem{}).Count(&lines).Error)
		assert.EqualValues(t, 2, lines)
	})

	t.Run("inactive product", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.conn.Model(&f.widget).Update("is_active", false).Error)
		f.fillCart(t, map[uuid.UUID]int{f.widget.ID: 1})
		_, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{CustomerID: f.customer, ShippingAddress: shippingAddress(), PaymentMethod: "card"})
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
	})
}

func TestTransitionOrderRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	_, err := f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusShipped})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict), "skipping ahead")

	same, err := f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusPending})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, same.Status)
	assert.Empty(t, f.events(t, enums.EventOrderStatusChanged))

	for _, to := range []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing} {
		_, err := f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: to})
		require.NoError(t, err)
	}
	_, err = f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusShipped})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict), "unpaid")

	_, err = f.svc.UpdatePaymentStatus(ctx, PaymentInput{OrderID: order.ID, To: enums.PaymentStatusPaid})
	require.NoError(t, err)
	shipped, err := f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusShipped})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, shipped.Status)
	assert.Len(t, f.events(t, enums.EventOrderStatusChanged), 3)
}

func TestRefundMovesPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	_, err := f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusConfirmed})
	require.NoError(t, err)
	_, err = f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusRefunded})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

	intent := "pi_123"
	_, err = f.svc.UpdatePaymentStatus(ctx, PaymentInput{OrderID: order.ID, To: enums.PaymentStatusPaid, PaymentIntentID: &intent})
	require.NoError(t, err)
	refunded, err := f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusRefunded, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, refunded.PaymentStatus)
	require.NotNil(t, refunded.PaymentIntentID)
	assert.Equal(t, "pi_123", *refunded.PaymentIntentID)
	assert.Len(t, f.events(t, enums.EventPaymentStatusChanged), 2)

	_, err = f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusConfirmed})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict), "refunded is terminal")
}

func TestPaymentTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	_, err := f.svc.UpdatePaymentStatus(ctx, PaymentInput{OrderID: order.ID, To: enums.PaymentStatusFailed})
	require.NoError(t, err)
	_, err = f.svc.UpdatePaymentStatus(ctx, PaymentInput{OrderID: order.ID, To: enums.PaymentStatusPending})
	require.NoError(t, err)
	_, err = f.svc.UpdatePaymentStatus(ctx, PaymentInput{OrderID: order.ID, To: enums.PaymentStatusRefunded})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	_, err = f.svc.UpdatePaymentStatus(ctx, PaymentInput{OrderID: order.ID, To: "BOUNCED"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestCancelCascadesAndRestocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	require.NoError(t, f.conn.Model(&models.ProductInventory{}).
		Where("product_id = ?", f.gadget.ID).Update("reserved_quantity", 1).Error)
	require.NoError(t, f.conn.Create(&models.InventoryReservation{
		ProductID: f.gadget.ID, CustomerID: f.customer, OrderID: &order.ID, Quantity: 1, ExpiresAt: f.now.Add(time.Hour),
	}).Error)

	cancelled, err := f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusCancelled, Reason: "changed mind"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)

	var vos []models.VendorOrder
	require.NoError(t, f.conn.Where("order_id = ?", order.ID).Find(&vos).Error)
	require.Len(t, vos, 2)
	for _, vo := range vos {
		assert.Equal(t, enums.OrderStatusCancelled, vo.Status)
	}
	assert.Len(t, f.events(t, enums.EventVendorOrderStatusChanged), 2)

	assert.Equal(t, 5, f.stock(t, f.widget.ID).Quantity)
	gadget := f.stock(t, f.gadget.ID)
	assert.Equal(t, 10, gadget.Quantity)
	assert.Zero(t, gadget.ReservedQuantity)
}

func TestVendorOrderFollowsParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)
	first, second := order.VendorOrders[0], order.VendorOrders[1]

	_, err := f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{VendorOrderID: first.ID, To: enums.OrderStatusConfirmed})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict), "parent still pending")

	stranger := uuid.New()
	_, err = f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{VendorOrderID: first.ID, VendorID: &stranger, To: enums.OrderStatusCancelled})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusConfirmed})
	require.NoError(t, err)
	for _, vo := range []models.VendorOrder{first, second} {
		for _, to := range []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing} {
			_, err := f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{VendorOrderID: vo.ID, To: to})
			require.NoError(t, err)
		}
	}
	_, err = f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{VendorOrderID: first.ID, To: enums.OrderStatusShipped})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict), "unpaid")

	_, err = f.svc.UpdatePaymentStatus(ctx, PaymentInput{OrderID: order.ID, To: enums.PaymentStatusPaid})
	require.NoError(t, err)

	tracking := " 1Z999 "
	eta := f.now.Add(72 * time.Hour)
	shipped, err := f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{
		VendorOrderID: first.ID, VendorID: &first.VendorID, To: enums.OrderStatusShipped,
		TrackingNumber: &tracking, EstimatedDelivery: &eta,
	})
	require.NoError(t, err)
	require.NotNil(t, shipped.TrackingNumber)
	assert.Equal(t, "1Z999", *shipped.TrackingNumber)
	require.NotNil(t, shipped.EstimatedDelivery)
	assert.True(t, eta.Equal(*shipped.EstimatedDelivery))

	_, err = f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{VendorOrderID: first.ID, To: enums.OrderStatusDelivered})
	require.NoError(t, err)
	current, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, current.Status, "one vendor order still open")

	_, err = f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{VendorOrderID: second.ID, To: enums.OrderStatusCancelled})
	require.NoError(t, err)
	current, err = f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, current.Status, "cancelling does not deliver")
}

func TestParentDeliveredWhenAllVendorOrdersDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	_, err := f.svc.UpdatePaymentStatus(ctx, PaymentInput{OrderID: order.ID, To: enums.PaymentStatusPaid})
	require.NoError(t, err)
	_, err = f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusConfirmed})
	require.NoError(t, err)

	path := []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.OrderStatusDelivered}
	for _, vo := range order.VendorOrders {
		for _, to := range path {
			_, err := f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{VendorOrderID: vo.ID, To: to})
			require.NoError(t, err)
		}
	}

	current, err := f.svc.Get(ctx, order.ID, query.Include{Relation: "vendorOrders"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, current.Status)
	assert.Len(t, current.VendorOrders, 2)
	assert.Len(t, f.events(t, enums.EventOrderStatusChanged), 2)
}

func TestDeletePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("pending order restocks", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t)
		require.NoError(t, f.svc.Delete(ctx, order.ID))

		assert.Equal(t, 5, f.stock(t, f.widget.ID).Quantity)
		var items, vos int64
		require.NoError(t, f.conn.Model(&models.OrderItem{}).Count(&items).Error)
		require.NoError(t, f.conn.Model(&models.VendorOrder{}).Count(&vos).Error)
		assert.Zero(t, items)
		assert.Zero(t, vos)

		_, err := f.svc.Get(ctx, order.ID)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	})

	t.Run("confirmed order is kept", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t)
		_, err := f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusConfirmed})
		require.NoError(t, err)
		err = f.svc.Delete(ctx, order.ID)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
	})

	t.Run("cancelled order does not restock twice", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t)
		_, err := f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusCancelled})
		require.NoError(t, err)
		require.NoError(t, f.svc.Delete(ctx, order.ID))
		assert.Equal(t, 5, f.stock(t, f.widget.ID).Quantity)
	})
}

func TestAddItemChecksParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	item, err := f.svc.AddItem(ctx, AddItemInput{Parent: BelongsToOrder{OrderID: order.ID}, ProductID: f.widget.ID, Quantity: 1})
	require.NoError(t, err)
	assert.Nil(t, item.VendorOrderID)
	assert.Equal(t, "10.00", item.Price.StringFixed(2))
	assert.Equal(t, 2, f.stock(t, f.widget.ID).Quantity)

	_, err = f.svc.AddItem(ctx, AddItemInput{
		Parent:    BelongsToBoth{OrderID: uuid.New(), VendorOrderID: order.VendorOrders[0].ID},
		ProductID: f.widget.ID, Quantity: 1,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.AddItem(ctx, AddItemInput{ProductID: f.widget.ID, Quantity: 1})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestAddItemConsumesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)
	require.Equal(t, 3, f.stock(t, f.widget.ID).Quantity)

	_, err := f.svc.AddItem(ctx, AddItemInput{Parent: BelongsToOrder{OrderID: order.ID}, ProductID: f.widget.ID, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, f.stock(t, f.widget.ID).Quantity)

	_, err = f.svc.AddItem(ctx, AddItemInput{Parent: BelongsToOrder{OrderID: order.ID}, ProductID: f.widget.ID, Quantity: 2})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), "only one widget left")
	assert.Equal(t, 1, f.stock(t, f.widget.ID).Quantity)

	_, err = f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 5, f.stock(t, f.widget.ID).Quantity)
	assert.Equal(t, 10, f.stock(t, f.gadget.ID).Quantity)

	_, err = f.svc.AddItem(ctx, AddItemInput{Parent: BelongsToOrder{OrderID: order.ID}, ProductID: f.widget.ID, Quantity: 1})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict), "order is cancelled")
	_, err = f.svc.AddItem(ctx, AddItemInput{Parent: BelongsToVendorOrder{VendorOrderID: order.VendorOrders[0].ID}, ProductID: f.widget.ID, Quantity: 1})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict), "vendor order is cancelled")
	assert.Equal(t, 5, f.stock(t, f.widget.ID).Quantity)
}

func TestCancelRefusedOnceShipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)
	first := order.VendorOrders[0]

	_, err := f.svc.UpdatePaymentStatus(ctx, PaymentInput{OrderID: order.ID, To: enums.PaymentStatusPaid})
	require.NoError(t, err)
	_, err = f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusConfirmed})
	require.NoError(t, err)
	path := []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.OrderStatusDelivered}
	for _, to := range path {
		_, err := f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{VendorOrderID: first.ID, To: to})
		require.NoError(t, err)
	}
	vendorEvents := len(f.events(t, enums.EventVendorOrderStatusChanged))

	_, err = f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusCancelled})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))

	current, err := f.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, current.Status)
	assert.Equal(t, enums.PaymentStatusPaid, current.PaymentStatus)
	var delivered models.VendorOrder
	require.NoError(t, f.conn.First(&delivered, "id = ?", first.ID).Error)
	assert.Equal(t, enums.OrderStatusDelivered, delivered.Status)
	assert.Len(t, f.events(t, enums.EventVendorOrderStatusChanged), vendorEvents)
	assert.Equal(t, 3, f.stock(t, f.widget.ID).Quantity)
	assert.Equal(t, 7, f.stock(t, f.gadget.ID).Quantity)
}

func TestCancelPaidOrderRefundsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	_, err := f.svc.UpdatePaymentStatus(ctx, PaymentInput{OrderID: order.ID, To: enums.PaymentStatusPaid})
	require.NoError(t, err)
	cancelled, err := f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, enums.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Len(t, f.events(t, enums.EventPaymentStatusChanged), 2)

	unpaid := newFixture(t)
	other := unpaid.place(t)
	cancelled, err = unpaid.svc.TransitionOrder(ctx, TransitionInput{OrderID: other.ID, To: enums.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, cancelled.PaymentStatus)
	assert.Empty(t, unpaid.events(t, enums.EventPaymentStatusChanged))
}

func TestVendorOrderCancelRestocksOnce(t *testing.T) {
	ctx := context.Background()
	widgetSlice := func(t *testing.T, f *fixture, order *models.Order) models.VendorOrder {
		t.Helper()
		for _, vo := range order.VendorOrders {
			if vo.VendorID == f.widget.VendorID {
				return vo
			}
		}
		t.Fatal("no widget vendor order")
		return models.VendorOrder{}
	}

	t.Run("then order cancelled", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t)
		_, err := f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{VendorOrderID: widgetSlice(t, f, order).ID, To: enums.OrderStatusCancelled})
		require.NoError(t, err)
		assert.Equal(t, 5, f.stock(t, f.widget.ID).Quantity)
		assert.Equal(t, 7, f.stock(t, f.gadget.ID).Quantity)

		_, err = f.svc.TransitionOrder(ctx, TransitionInput{OrderID: order.ID, To: enums.OrderStatusCancelled})
		require.NoError(t, err)
		assert.Equal(t, 5, f.stock(t, f.widget.ID).Quantity)
		assert.Equal(t, 10, f.stock(t, f.gadget.ID).Quantity)
	})

	t.Run("then order deleted", func(t *testing.T) {
		f := newFixture(t)
		order := f.place(t)
		_, err := f.svc.TransitionVendorOrder(ctx, VendorTransitionInput{VendorOrderID: widgetSlice(t, f, order).ID, To: enums.OrderStatusCancelled})
		require.NoError(t, err)
		require.NoError(t, f.svc.Delete(ctx, order.ID))
		assert.Equal(t, 5, f.stock(t, f.widget.ID).Quantity)
		assert.Equal(t, 10, f.stock(t, f.gadget.ID).Quantity)
	})
}

func TestListForCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	mine, err := f.svc.ListForCustomer(ctx, f.customer, query.FindManyArgs{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, order.ID, mine[0].ID)

	others, err := f.svc.ListForCustomer(ctx, uuid.New(), query.FindManyArgs{})
	require.NoError(t, err)
	assert.Empty(t, others)

	filtered, err := f.svc.ListForCustomer(ctx, f.customer, query.FindManyArgs{Where: query.Eq("status", enums.OrderStatusCancelled).Ptr()})
	require.NoError(t, err)
	assert.Empty(t, filtered)
}
