package products

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/internal/reviews"
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
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service exposes catalog and stock management.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Product, error)
	Get(ctx context.Context, id uuid.UUID, includes ...query.Include) (*models.Product, error)
	List(ctx context.Context, args query.FindManyArgs) ([]models.Product, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetInventory(ctx context.Context, productID uuid.UUID, input InventoryInput) (*models.ProductInventory, error)
	AdjustInventory(ctx context.Context, productID uuid.UUID, delta int) (*models.ProductInventory, error)
}

// CreateInput holds a new listing. Inventory is optional.
type CreateInput struct {
	VendorID       uuid.UUID
	Name           string
	Description    string
	Price          decimal.Decimal
	ComparePrice   *decimal.Decimal
	SKU            *string
	Category       string
	Subcategory    *string
	Brand          *string
	Images         []string
	Specifications types.JSONMap
	IsActive       *bool
	Inventory      *InventoryInput
}

// UpdateInput carries optional changes; nil fields are left alone.
type UpdateInput struct {
	Name              *string
	Description       *string
	Price             *decimal.Decimal
	ComparePrice      *decimal.Decimal
	ClearComparePrice bool
	SKU               *string
	Category          *string
	Subcategory       *string
	Brand             *string
	Images            *[]string
	Specifications    types.JSONMap
	IsActive          *bool
}

// InventoryInput is the full stock state written by SetInventory.
type InventoryInput struct {
	Quantity          int
	LowStockThreshold int
	TrackQuantity     *bool
}

type service struct {
	tx          txRunner
	outbox      outboxPublisher
	products    *repo.Repository[models.Product]
	inventory   *repo.Repository[models.ProductInventory]
	vendors     *repo.Repository[models.Vendor]
	reviews     *repo.Repository[models.ProductReview]
	orderItems  *repo.Repository[models.OrderItem]
	cartItems   *repo.Repository[models.CartItem]
	wishItems   *repo.Repository[models.WishlistItem]
	reservation *repo.Repository[models.InventoryReservation]
	logg        *logger.Logger
}

// NewService builds the product service over conn.
func NewService(conn *gorm.DB, tx txRunner, outbox outboxPublisher, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	s := &service{tx: tx, outbox: outbox, logg: logg}
	var err error
	if s.products, err = repo.New[models.Product](conn); err != nil {
		return nil, err
	}
	if s.inventory, err = repo.New[models.ProductInventory](conn); err != nil {
		return nil, err
	}
	if s.vendors, err = repo.New[models.Vendor](conn); err != nil {
		return nil, err
	}
	if s.reviews, err = repo.New[models.ProductReview](conn); err != nil {
		return nil, err
	}
	if s.orderItems, err = repo.New[models.OrderItem](conn); err != nil {
		return nil, err
	}
	if s.cartItems, err = repo.New[models.CartItem](conn); err != nil {
		return nil, err
	}
	if s.wishItems, err = repo.New[models.WishlistItem](conn); err != nil {
		return nil, err
	}
	if s.reservation, err = repo.New[models.InventoryReservation](conn); err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts the product and its optional stock row in one transaction.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Product, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category is required")
	}
	if err := validatePricing(input.Price, input.ComparePrice); err != nil {
		return nil, err
	}
	if input.Inventory != nil {
		if err := validateInventory(*input.Inventory, 0); err != nil {
			return nil, err
		}
	}

	product := &models.Product{
		Name:           name,
		Description:    input.Description,
		Price:          input.Price,
		SKU:            input.SKU,
		Category:       category,
		Subcategory:    input.Subcategory,
		Brand:          input.Brand,
		Images:         input.Images,
		Specifications: input.Specifications,
		VendorID:       input.VendorID,
		IsActive:       true,
	}
	if input.ComparePrice != nil {
		product.ComparePrice = decimal.NewNullDecimal(*input.ComparePrice)
	}
	if input.IsActive != nil {
		product.IsActive = *input.IsActive
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.ensureSellingVendor(ctx, tx, input.VendorID); err != nil {
			return err
		}
		if err := s.products.WithTx(tx).Create(ctx, product); err != nil {
			return err
		}
		if input.Inventory == nil {
			return nil
		}
		inv := newInventory(product.ID, *input.Inventory)
		if err := s.inventory.WithTx(tx).Create(ctx, inv); err != nil {
			return err
		}
		product.Inventory = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"product_id": product.ID.String(), "vendor_id": product.VendorID.String()})
		s.logg.Info(ctx, "product created")
	}
	return product, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID, includes ...query.Include) (*models.Product, error) {
	return s.products.FindUniqueOrThrow(ctx, query.ByID(id), includes...)
}

func (s *service) List(ctx context.Context, args query.FindManyArgs) ([]models.Product, error) {
	return s.products.FindMany(ctx, args)
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Product, error) {
	var updated *models.Product
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products := s.products.WithTx(tx)
		current, err := products.FindByIDOrThrow(ctx, id)
		if err != nil {
			return err
		}

		price := current.Price
		if input.Price != nil {
			price = *input.Price
		}
		var compare *decimal.Decimal
		switch {
		case input.ClearComparePrice:
		case input.ComparePrice != nil:
			compare = input.ComparePrice
		case current.ComparePrice.Valid:
			compare = &current.ComparePrice.Decimal
		}
		if err := validatePricing(price, compare); err != nil {
			return err
		}

		data := query.Data{}
		if input.Name != nil {
			name := strings.TrimSpace(*input.Name)
			if name == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "name cannot be empty")
			}
			data["name"] = name
		}
		if input.Description != nil {
			data["description"] = *input.Description
		}
		if input.Price != nil {
			data["price"] = *input.Price
		}
		if input.ClearComparePrice {
			data["compare_price"] = nil
		} else if input.ComparePrice != nil {
			data["compare_price"] = *input.ComparePrice
		}
		if input.SKU != nil {
			data["sku"] = *input.SKU
		}
		if input.Category != nil {
			category := strings.TrimSpace(*input.Category)
			if category == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "category cannot be empty")
			}
			data["category"] = category
		}
		if input.Subcategory != nil {
			data["subcategory"] = *input.Subcategory
		}
		if input.Brand != nil {
			data["brand"] = *input.Brand
		}
		if input.Specifications != nil {
			data["specifications"] = input.Specifications
		}
		if input.IsActive != nil {
			data["is_active"] = *input.IsActive
		}
		if input.Images != nil {
			current.Images = *input.Images
			if current.Images == nil {
				current.Images = []string{}
			}
			if err := tx.WithContext(ctx).Model(current).Select("images").Updates(current).Error; err != nil {
				return err
			}
		}
		if len(data) == 0 {
			updated, err = products.FindByIDOrThrow(ctx, id)
			return err
		}
		updated, err = products.Update(ctx, id, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the product with its stock, holds, cart and wishlist lines and
// reviews. Products that were ever ordered are kept for order history.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		product, err := s.products.WithTx(tx).FindByIDOrThrow(ctx, id)
		if err != nil {
			return err
		}
		byProduct := query.Eq("product_id", id).Ptr()
		ordered, err := s.orderItems.WithTx(tx).Count(ctx, byProduct)
		if err != nil {
			return err
		}
		if ordered > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "product has order history; deactivate it instead")
		}

		if _, err := s.inventory.WithTx(tx).DeleteMany(ctx, byProduct); err != nil {
			return err
		}
		if _, err := s.reservation.WithTx(tx).DeleteMany(ctx, byProduct); err != nil {
			return err
		}
		if _, err := s.cartItems.WithTx(tx).DeleteMany(ctx, byProduct); err != nil {
			return err
		}
		if _, err := s.wishItems.WithTx(tx).DeleteMany(ctx, byProduct); err != nil {
			return err
		}
		removedReviews, err := s.reviews.WithTx(tx).DeleteMany(ctx, byProduct)
		if err != nil {
			return err
		}
		if _, err := s.products.WithTx(tx).Delete(ctx, id); err != nil {
			return err
		}
		if removedReviews > 0 {
			if err := reviews.RefreshVendorRating(ctx, tx, product.VendorID); err != nil {
				return err
			}
		}

		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductDeleted,
			AggregateType: enums.AggregateProduct,
			AggregateID:   product.ID,
			Data: payloads.ProductDeletedEvent{
				ProductID: product.ID,
				VendorID:  product.VendorID,
				SKU:       product.SKU,
			},
		})
	})
}

// SetInventory writes the stock row, creating it when the product has none.
func (s *service) SetInventory(ctx context.Context, productID uuid.UUID, input InventoryInput) (*models.ProductInventory, error) {
	var out *models.ProductInventory
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.products.WithTx(tx).FindByIDOrThrow(ctx, productID); err != nil {
			return err
		}
		inventory := s.inventory.WithTx(tx)
		key := query.UniqueKey{"product_id": productID}
		current, err := inventory.FindUniqueForUpdate(ctx, key)
		if err != nil {
			return err
		}
		reserved := 0
		if current != nil {
			reserved = current.ReservedQuantity
		}
		if err := validateInventory(input, reserved); err != nil {
			return err
		}

		update := query.Data{
			"quantity":            input.Quantity,
			"low_stock_threshold": input.LowStockThreshold,
		}
		if input.TrackQuantity != nil {
			update["track_quantity"] = *input.TrackQuantity
		}
		out, err = inventory.Upsert(ctx, key, newInventory(productID, input), update)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AdjustInventory moves quantity by delta. Stock never drops below what is reserved.
func (s *service) AdjustInventory(ctx context.Context, productID uuid.UUID, delta int) (*models.ProductInventory, error) {
	if delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must not be zero")
	}
	var out *models.ProductInventory
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		inventory := s.inventory.WithTx(tx)
		key := query.UniqueKey{"product_id": productID}
		current, err := inventory.FindUniqueForUpdate(ctx, key)
		if err != nil {
			return err
		}
		if current == nil {
			return pkgerrors.NotFound("ProductInventory")
		}
		next := current.Quantity + delta
		if next < current.ReservedQuantity {
			return pkgerrors.New(pkgerrors.CodeConflict, "quantity cannot drop below reserved stock").
				WithDetails(map[string]any{"quantity": current.Quantity, "reserved": current.ReservedQuantity, "delta": delta})
		}
		out, err = inventory.UpdateUnique(ctx, key, query.Data{"quantity": next})
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.LowStock() && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "product_id", productID.String()), "inventory below low stock threshold")
	}
	return out, nil
}

func (s *service) ensureSellingVendor(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) error {
	if vendorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	vendor, err := s.vendors.WithTx(tx).FindByID(ctx, vendorID)
	if err != nil {
		return err
	}
	if vendor == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor does not exist")
	}
	if !vendor.IsActive {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor is not active")
	}
	return nil
}

func newInventory(productID uuid.UUID, input InventoryInput) *models.ProductInventory {
	track := true
	if input.TrackQuantity != nil {
		track = *input.TrackQuantity
	}
	return &models.ProductInventory{
		ProductID:         productID,
		Quantity:          input.Quantity,
		LowStockThreshold: input.LowStockThreshold,
		TrackQuantity:     track,
	}
}
