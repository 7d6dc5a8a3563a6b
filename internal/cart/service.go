package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages the single open cart of each customer.
type Service interface {
	GetOrCreate(ctx context.Context, customerID uuid.UUID) (*models.ShoppingCart, error)
	Get(ctx context.Context, customerID uuid.UUID) (*Summary, error)
	AddItem(ctx context.Context, customerID, productID uuid.UUID, quantity int) (*models.CartItem, error)
	AddItemStrict(ctx context.Context, customerID, productID uuid.UUID, quantity int) (*models.CartItem, error)
	UpdateQuantity(ctx context.Context, customerID, productID uuid.UUID, quantity int) (*models.CartItem, error)
	RemoveItem(ctx context.Context, customerID, productID uuid.UUID) error
	Clear(ctx context.Context, customerID uuid.UUID) (int64, error)
	Totals(ctx context.Context, customerID uuid.UUID) (Totals, error)
}

// Totals summarises a cart at the snapshotted prices.
type Totals struct {
	ItemCount   int             `json:"itemCount"`
	LineCount   int             `json:"lineCount"`
	VendorCount int             `json:"vendorCount"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Summary is a cart with its lines and totals.
type Summary struct {
	Cart   models.ShoppingCart `json:"cart"`
	Items  []models.CartItem   `json:"items"`
	Totals Totals              `json:"totals"`
}

type service struct {
	tx       txRunner
	carts    *repo.Repository[models.ShoppingCart]
	items    *repo.Repository[models.CartItem]
	products *repo.Repository[models.Product]
	logg     *logger.Logger
}

func NewService(conn *gorm.DB, tx txRunner, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	carts, err := repo.New[models.ShoppingCart](conn)
	if err != nil {
		return nil, err
	}
	items, err := repo.New[models.CartItem](conn)
	if err != nil {
		return nil, err
	}
	products, err := repo.New[models.Product](conn)
	if err != nil {
		return nil, err
	}
	return &service{tx: tx, carts: carts, items: items, products: products, logg: logg}, nil
}

func (s *service) GetOrCreate(ctx context.Context, customerID uuid.UUID) (*models.ShoppingCart, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	return s.carts.Upsert(ctx, customerKey(customerID), &models.ShoppingCart{CustomerID: customerID}, nil)
}

func (s *service) Get(ctx context.Context, customerID uuid.UUID) (*Summary, error) {
	cart, err := s.GetOrCreate(ctx, customerID)
	if err != nil {
		return nil, err
	}
	items, err := s.lines(ctx, s.items, cart.ID)
	if err != nil {
		return nil, err
	}
	return &Summary{Cart: *cart, Items: items, Totals: totalsOf(items)}, nil
}

// AddItem adds quantity to the line for productID, creating it when missing.
// The line price is refreshed to the current product price.
func (s *service) AddItem(ctx context.Context, customerID, productID uuid.UUID, quantity int) (*models.CartItem, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	var item *models.CartItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, product, err := s.prepare(ctx, tx, customerID, productID)
		if err != nil {
			return err
		}
		item, err = s.items.WithTx(tx).Upsert(ctx,
			lineKey(cart.ID, productID),
			&models.CartItem{CartID: cart.ID, ProductID: productID, Quantity: quantity, Price: product.Price},
			query.Data{"quantity": query.Increment{By: quantity}, "price": product.Price},
		)
		if err != nil {
			return err
		}
		return touch(ctx, tx, cart.ID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// AddItemStrict inserts a new line and fails when the product is already in the cart.
func (s *service) AddItemStrict(ctx context.Context, customerID, productID uuid.UUID, quantity int) (*models.CartItem, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	var item *models.CartItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, product, err := s.prepare(ctx, tx, customerID, productID)
		if err != nil {
			return err
		}
		item = &models.CartItem{CartID: cart.ID, ProductID: productID, Quantity: quantity, Price: product.Price}
		if err := s.items.WithTx(tx).Create(ctx, item); err != nil {
			return err
		}
		return touch(ctx, tx, cart.ID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateQuantity sets the line quantity. Zero removes the line and returns nil.
func (s *service) UpdateQuantity(ctx context.Context, customerID, productID uuid.UUID, quantity int) (*models.CartItem, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if quantity == 0 {
		return nil, s.RemoveItem(ctx, customerID, productID)
	}
	var item *models.CartItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, err := s.existing(ctx, tx, customerID)
		if err != nil {
			return err
		}
		item, err = s.items.WithTx(tx).UpdateUnique(ctx, lineKey(cart.ID, productID), query.Data{"quantity": quantity})
		if err != nil {
			return err
		}
		return touch(ctx, tx, cart.ID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *service) RemoveItem(ctx context.Context, customerID, productID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, err := s.existing(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if _, err := s.items.WithTx(tx).DeleteUnique(ctx, lineKey(cart.ID, productID)); err != nil {
			return err
		}
		return touch(ctx, tx, cart.ID)
	})
}

// Clear empties the cart and returns how many lines were removed.
func (s *service) Clear(ctx context.Context, customerID uuid.UUID) (int64, error) {
	var removed int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cart, err := s.carts.WithTx(tx).FindUnique(ctx, customerKey(customerID))
		if err != nil || cart == nil {
			return err
		}
		removed, err = ClearTx(ctx, tx, cart.ID)
		return err
	})
	return removed, err
}

func (s *service) Totals(ctx context.Context, customerID uuid.UUID) (Totals, error) {
	cart, err := s.carts.FindUnique(ctx, customerKey(customerID))
	if err != nil || cart == nil {
		return Totals{Subtotal: decimal.Zero}, err
	}
	items, err := s.lines(ctx, s.items, cart.ID)
	if err != nil {
		return Totals{}, err
	}
	return totalsOf(items), nil
}

// ClearTx removes every line of cartID inside tx.
func ClearTx(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) (int64, error) {
	items, err := repo.New[models.CartItem](tx)
	if err != nil {
		return 0, err
	}
	removed, err := items.DeleteMany(ctx, query.Eq("cart_id", cartID).Ptr())
	if err != nil {
		return 0, err
	}
	return removed, touch(ctx, tx, cartID)
}

func (s *service) prepare(ctx context.Context, tx *gorm.DB, customerID, productID uuid.UUID) (*models.ShoppingCart, *models.Product, error) {
	product, err := s.products.WithTx(tx).FindByIDOrThrow(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	if !product.IsActive {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available")
	}
	if customerID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	cart, err := s.carts.WithTx(tx).Upsert(ctx, customerKey(customerID), &models.ShoppingCart{CustomerID: customerID}, nil)
	if err != nil {
		return nil, nil, err
	}
	return cart, product, nil
}

func (s *service) existing(ctx context.Context, tx *gorm.DB, customerID uuid.UUID) (*models.ShoppingCart, error) {
	return s.carts.WithTx(tx).FindUniqueOrThrow(ctx, customerKey(customerID))
}

func (s *service) lines(ctx context.Context, items *repo.Repository[models.CartItem], cartID uuid.UUID) ([]models.CartItem, error) {
	return items.FindMany(ctx, query.FindManyArgs{
		Where:   query.Eq("cart_id", cartID).Ptr(),
		OrderBy: []query.OrderBy{query.Asc("added_at")},
		Include: []query.Include{{Relation: "product"}},
	})
}

func totalsOf(items []models.CartItem) Totals {
	totals := Totals{Subtotal: decimal.Zero, LineCount: len(items)}
	vendors := map[uuid.UUID]struct{}{}
	for _, item := range items {
		totals.ItemCount += item.Quantity
		totals.Subtotal = totals.Subtotal.Add(item.LineTotal())
		if item.Product != nil {
			vendors[item.Product.VendorID] = struct{}{}
		}
	}
	totals.VendorCount = len(vendors)
	return totals
}

func touch(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error {
	return tx.WithContext(ctx).Model(&models.ShoppingCart{ID: cartID}).Update("updated_at", time.Now().UTC()).Error
}

func customerKey(customerID uuid.UUID) query.UniqueKey {
	return query.UniqueKey{"customer_id": customerID}
}

func lineKey(cartID, productID uuid.UUID) query.UniqueKey {
	return query.UniqueKey{"cart_id": cartID, "product_id": productID}
}
