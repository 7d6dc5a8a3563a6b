package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/cart"
	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/internal/reservations"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service covers checkout and the order lifecycle.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
	TransitionOrder(ctx context.Context, input TransitionInput) (*models.Order, error)
	TransitionVendorOrder(ctx context.Context, input VendorTransitionInput) (*models.VendorOrder, error)
	UpdatePaymentStatus(ctx context.Context, input PaymentInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID, includes ...query.Include) (*models.Order, error)
	GetVendorOrder(ctx context.Context, id uuid.UUID) (*models.VendorOrder, error)
	ListForCustomer(ctx context.Context, customerID uuid.UUID, args query.FindManyArgs) ([]models.Order, error)
	ListForVendor(ctx context.Context, vendorID uuid.UUID, args query.FindManyArgs) ([]models.VendorOrder, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AddItem(ctx context.Context, input AddItemInput) (*models.OrderItem, error)
}

type PlaceOrderInput struct {
	CustomerID      uuid.UUID
	ShippingAddress types.Address
	PaymentMethod   string
	Notes           *string
}

// AddItemInput attaches a line to an existing order, vendor order or both.
type AddItemInput struct {
	Parent    ItemParent
	ProductID uuid.UUID
	Quantity  int
	Price     *decimal.Decimal
}

type Params struct {
	DB                *gorm.DB
	Tx                txRunner
	Outbox            outboxPublisher
	Logger            *logger.Logger
	TaxRate           decimal.Decimal
	ShippingPerVendor decimal.Decimal
	Clock             func() time.Time
}

type service struct {
	tx           txRunner
	outbox       outboxPublisher
	logg         *logger.Logger
	taxRate      decimal.Decimal
	shipping     decimal.Decimal
	now          func() time.Time
	orders       *repo.Repository[models.Order]
	vendorOrders *repo.Repository[models.VendorOrder]
	items        *repo.Repository[models.OrderItem]
	carts        *repo.Repository[models.ShoppingCart]
	cartItems    *repo.Repository[models.CartItem]
	products     *repo.Repository[models.Product]
}

func NewService(p Params) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if p.TaxRate.IsNegative() || p.ShippingPerVendor.IsNegative() {
		return nil, fmt.Errorf("tax rate and shipping must not be negative")
	}
	s := &service{
		tx:       p.Tx,
		outbox:   p.Outbox,
		logg:     p.Logger,
		taxRate:  p.TaxRate,
		shipping: p.ShippingPerVendor,
		now:      p.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}
	var err error
	if s.orders, err = repo.New[models.Order](p.DB); err != nil {
		return nil, err
	}
	if s.vendorOrders, err = repo.New[models.VendorOrder](p.DB); err != nil {
		return nil, err
	}
	if s.items, err = repo.New[models.OrderItem](p.DB); err != nil {
		return nil, err
	}
	if s.carts, err = repo.New[models.ShoppingCart](p.DB); err != nil {
		return nil, err
	}
	if s.cartItems, err = repo.New[models.CartItem](p.DB); err != nil {
		return nil, err
	}
	if s.products, err = repo.New[models.Product](p.DB); err != nil {
		return nil, err
	}
	return s, nil
}

type vendorSlice struct {
	vendorID uuid.UUID
	lines    []models.CartItem
	subtotal decimal.Decimal
}

// PlaceOrder turns the customer's cart into an order with one vendor order per
// seller. Stock leaves inventory, consuming the customer's holds first, and the
// cart is emptied. Everything happens in one transaction.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	address := input.ShippingAddress.Normalize()
	if err := address.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	method := strings.TrimSpace(input.PaymentMethod)
	if method == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is required")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		shoppingCart, err := s.carts.WithTx(tx).FindUnique(ctx, query.UniqueKey{"customer_id": input.CustomerID})
		if err != nil {
			return err
		}
		if shoppingCart == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}
		lines, err := s.cartItems.WithTx(tx).FindMany(ctx, query.FindManyArgs{
			Where:   query.Eq("cart_id", shoppingCart.ID).Ptr(),
			OrderBy: []query.OrderBy{query.Asc("added_at")},
			Include: []query.Include{{Relation: "product"}},
		})
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}

		slices, err := groupByVendor(lines)
		if err != nil {
			return err
		}

		stock, err := reservations.StockOn(tx)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		for _, line := range lines {
			if err := stock.Consume(ctx, input.CustomerID, line.ProductID, line.Quantity, now); err != nil {
				return err
			}
		}

		subtotal := decimal.Zero
		for _, slice := range slices {
			subtotal = subtotal.Add(slice.subtotal)
		}
		shipping := s.shipping.Mul(decimal.NewFromInt(int64(len(slices))))
		tax := subtotal.Mul(s.taxRate).Round(2)
		order = &models.Order{
			CustomerID:      input.CustomerID,
			Status:          enums.OrderStatusPending,
			Subtotal:        subtotal,
			Tax:             tax,
			Shipping:        shipping,
			Total:           subtotal.Add(tax).Add(shipping),
			ShippingAddress: address,
			PaymentMethod:   method,
			PaymentStatus:   enums.PaymentStatusPending,
			Notes:           input.Notes,
		}
		if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}

		vendorOrderIDs := make([]uuid.UUID, 0, len(slices))
		itemCount := 0
		for _, slice := range slices {
			vo := models.VendorOrder{
				OrderID:  order.ID,
				VendorID: slice.vendorID,
				Status:   enums.OrderStatusPending,
				Subtotal: slice.subtotal,
				Shipping: s.shipping,
				Total:    slice.subtotal.Add(s.shipping),
			}
			if err := s.vendorOrders.WithTx(tx).Create(ctx, &vo); err != nil {
				return err
			}
			vendorOrderIDs = append(vendorOrderIDs, vo.ID)

			items := make([]models.OrderItem, 0, len(slice.lines))
			for _, line := range slice.lines {
				item := models.OrderItem{ProductID: line.ProductID, Quantity: line.Quantity, Price: line.Product.Price}
				if err := Apply(&item, BelongsToBoth{OrderID: order.ID, VendorOrderID: vo.ID}); err != nil {
					return err
				}
				items = append(items, item)
				itemCount += line.Quantity
			}
			if _, err := s.items.WithTx(tx).CreateMany(ctx, items, false); err != nil {
				return err
			}
			vo.Items = items
			order.VendorOrders = append(order.VendorOrders, vo)
		}

		if _, err := cart.ClearTx(ctx, tx, shoppingCart.ID); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{SubjectID: input.CustomerID, Role: "customer"},
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID,
				CustomerID:     order.CustomerID,
				VendorOrderIDs: vendorOrderIDs,
				ItemCount:      itemCount,
				Total:          order.Total,
				PaymentMethod:  order.PaymentMethod,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"order_id":      order.ID.String(),
			"customer_id":   order.CustomerID.String(),
			"vendor_orders": len(order.VendorOrders),
			"total":         order.Total.StringFixed(2),
		})
		s.logg.Info(ctx, "order placed")
	}
	return order, nil
}

func groupByVendor(lines []models.CartItem) ([]*vendorSlice, error) {
	byVendor := map[uuid.UUID]*vendorSlice{}
	var order []*vendorSlice
	for _, line := range lines {
		if line.Product == nil {
			return nil, pkgerrors.NotFound("Product")
		}
		if !line.Product.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "product is no longer available").
				WithDetails(map[string]any{"productId": line.ProductID})
		}
		slice, ok := byVendor[line.Product.VendorID]
		if !ok {
			slice = &vendorSlice{vendorID: line.Product.VendorID, subtotal: decimal.Zero}
			byVendor[line.Product.VendorID] = slice
			order = append(order, slice)
		}
		slice.lines = append(slice.lines, line)
		slice.subtotal = slice.subtotal.Add(line.Product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].vendorID.String() < order[j].vendorID.String()
	})
	return order, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID, includes ...query.Include) (*models.Order, error) {
	return s.orders.FindUniqueOrThrow(ctx, query.ByID(id), includes...)
}

func (s *service) GetVendorOrder(ctx context.Context, id uuid.UUID) (*models.VendorOrder, error) {
	return s.vendorOrders.FindUniqueOrThrow(ctx, query.ByID(id), query.Include{Relation: "items"})
}

func (s *service) ListForCustomer(ctx context.Context, customerID uuid.UUID, args query.FindManyArgs) ([]models.Order, error) {
	args.Where = scoped(query.Eq("customer_id", customerID), args.Where)
	if len(args.OrderBy) == 0 {
		args.OrderBy = []query.OrderBy{query.Desc("created_at")}
	}
	return s.orders.FindMany(ctx, args)
}

func (s *service) ListForVendor(ctx context.Context, vendorID uuid.UUID, args query.FindManyArgs) ([]models.VendorOrder, error) {
	args.Where = scoped(query.Eq("vendor_id", vendorID), args.Where)
	if len(args.OrderBy) == 0 {
		args.OrderBy = []query.OrderBy{query.Desc("created_at")}
	}
	return s.vendorOrders.FindMany(ctx, args)
}

// Delete removes a pending or cancelled order with its vendor orders and items.
// Stock taken by a pending order goes back to inventory.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.WithTx(tx).FindUniqueForUpdate(ctx, query.ByID(id))
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.NotFound("Order")
		}
		if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeConflict, "only pending or cancelled orders can be deleted").
				WithDetails(map[string]any{"status": order.Status})
		}

		items, err := s.itemsOf(ctx, tx, id)
		if err != nil {
			return err
		}
		stock, err := reservations.StockOn(tx)
		if err != nil {
			return err
		}
		if order.Status == enums.OrderStatusPending {
			live, err := s.liveVendorOrderIDs(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := restock(ctx, stock, stockedLines(items, live)); err != nil {
				return err
			}
		}
		if _, err := stock.ReleaseForOrder(ctx, id); err != nil {
			return err
		}

		ids := make([]any, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		if _, err := s.items.WithTx(tx).DeleteMany(ctx, query.In("id", ids...).Ptr()); err != nil {
			return err
		}
		if _, err := s.vendorOrders.WithTx(tx).DeleteMany(ctx, query.Eq("order_id", id).Ptr()); err != nil {
			return err
		}
		_, err = s.orders.WithTx(tx).Delete(ctx, id)
		return err
	})
}

// AddItem writes a single order line under parent. Checkout uses BelongsToBoth;
// the narrower variants serve manual adjustments.
func (s *service) AddItem(ctx context.Context, input AddItemInput) (*models.OrderItem, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	item := &models.OrderItem{ProductID: input.ProductID, Quantity: input.Quantity}
	if err := Apply(item, input.Parent); err != nil {
		return nil, err
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := verifyParent(ctx, tx, input.Parent); err != nil {
			return err
		}
		order, err := s.openParent(ctx, tx, input.Parent)
		if err != nil {
			return err
		}
		product, err := s.products.WithTx(tx).FindByIDOrThrow(ctx, input.ProductID)
		if err != nil {
			return err
		}
		stock, err := reservations.StockOn(tx)
		if err != nil {
			return err
		}
		if err := stock.Consume(ctx, order.CustomerID, product.ID, input.Quantity, s.now().UTC()); err != nil {
			return err
		}
		item.Price = product.Price
		if input.Price != nil {
			if input.Price.IsNegative() {
				return pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
			}
			item.Price = *input.Price
		}
		return s.items.WithTx(tx).Create(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// openParent locks the order that parent hangs under. Lines cannot be added to
// a terminal order or to a cancelled vendor order.
func (s *service) openParent(ctx context.Context, tx *gorm.DB, parent ItemParent) (*models.Order, error) {
	var orderID uuid.UUID
	if id := parent.vendorOrderID(); id != nil {
		vo, err := s.vendorOrders.WithTx(tx).FindByIDOrThrow(ctx, *id)
		if err != nil {
			return nil, err
		}
		if vo.Status.IsTerminal() {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "vendor order is closed").
				WithDetails(map[string]any{"vendorOrderId": vo.ID, "status": vo.Status})
		}
		orderID = vo.OrderID
	}
	if id := parent.orderID(); id != nil {
		orderID = *id
	}
	order, err := s.orders.WithTx(tx).FindUniqueForUpdate(ctx, query.ByID(orderID))
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.NotFound("Order")
	}
	if order.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is closed").
			WithDetails(map[string]any{"orderId": order.ID, "status": order.Status})
	}
	return order, nil
}

// liveVendorOrderIDs returns the ids of the order's vendor orders that still
// hold stock.
func (s *service) liveVendorOrderIDs(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (map[uuid.UUID]bool, error) {
	vos, err := s.vendorOrders.WithTx(tx).FindMany(ctx, query.FindManyArgs{
		Where: query.Eq("order_id", orderID).Ptr(),
	})
	if err != nil {
		return nil, err
	}
	live := make(map[uuid.UUID]bool, len(vos))
	for _, vo := range vos {
		if vo.Status != enums.OrderStatusCancelled {
			live[vo.ID] = true
		}
	}
	return live, nil
}

// itemsOf returns every item of the order, whichever parent ids it carries.
func (s *service) itemsOf(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.OrderItem, error) {
	vos, err := s.vendorOrders.WithTx(tx).FindMany(ctx, query.FindManyArgs{
		Where:  query.Eq("order_id", orderID).Ptr(),
		Select: []string{"id"},
	})
	if err != nil {
		return nil, err
	}
	voIDs := make([]any, 0, len(vos))
	for _, vo := range vos {
		voIDs = append(voIDs, vo.ID)
	}
	return s.items.WithTx(tx).FindMany(ctx, query.FindManyArgs{
		Where: query.Or(
			query.Eq("order_id", orderID),
			query.In("vendor_order_id", voIDs...),
		).Ptr(),
	})
}

func restock(ctx context.Context, stock *reservations.Stock, items []models.OrderItem) error {
	for _, item := range items {
		if err := stock.Restock(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func scoped(scope query.Filter, where *query.Filter) *query.Filter {
	if where == nil || where.IsEmpty() {
		return &scope
	}
	return query.And(scope, *where).Ptr()
}
