package reviews

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

const (
	minRating = 1
	maxRating = 5
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages product reviews and keeps product and vendor ratings current.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.ProductReview, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.ProductReview, error)
	Delete(ctx context.Context, id, customerID uuid.UUID) error
	List(ctx context.Context, productID uuid.UUID, args query.FindManyArgs) ([]models.ProductReview, error)
}

type CreateInput struct {
	ProductID  uuid.UUID
	CustomerID uuid.UUID
	Rating     int
	Title      *string
	Review     *string
}

// UpdateInput changes a review. CustomerID must own the review unless it is uuid.Nil.
type UpdateInput struct {
	CustomerID uuid.UUID
	Rating     *int
	Title      *string
	Review     *string
	IsActive   *bool
}

type service struct {
	tx       txRunner
	reviews  *repo.Repository[models.ProductReview]
	products *repo.Repository[models.Product]
	logg     *logger.Logger
}

func NewService(conn *gorm.DB, tx txRunner, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	reviews, err := repo.New[models.ProductReview](conn)
	if err != nil {
		return nil, err
	}
	products, err := repo.New[models.Product](conn)
	if err != nil {
		return nil, err
	}
	return &service{tx: tx, reviews: reviews, products: products, logg: logg}, nil
}

// Create stores one review per product and customer. The review is verified
// when the customer received the product.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.ProductReview, error) {
	if err := validateRating(input.Rating); err != nil {
		return nil, err
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}

	review := &models.ProductReview{
		ProductID:  input.ProductID,
		CustomerID: input.CustomerID,
		Rating:     input.Rating,
		Title:      trimmed(input.Title),
		Review:     trimmed(input.Review),
		IsActive:   true,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		product, err := s.products.WithTx(tx).FindByIDOrThrow(ctx, input.ProductID)
		if err != nil {
			return err
		}
		verified, err := hasDeliveredPurchase(ctx, tx, input.CustomerID, input.ProductID)
		if err != nil {
			return err
		}
		review.IsVerified = verified
		if err := s.reviews.WithTx(tx).Create(ctx, review); err != nil {
			return err
		}
		return RefreshRatings(ctx, tx, product.ID, product.VendorID)
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"review_id": review.ID.String(), "product_id": review.ProductID.String()})
		s.logg.Info(ctx, "review created")
	}
	return review, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.ProductReview, error) {
	data := query.Data{}
	if input.Rating != nil {
		if err := validateRating(*input.Rating); err != nil {
			return nil, err
		}
		data["rating"] = *input.Rating
	}
	if input.Title != nil {
		data["title"] = strings.TrimSpace(*input.Title)
	}
	if input.Review != nil {
		data["review"] = strings.TrimSpace(*input.Review)
	}
	if input.IsActive != nil {
		data["is_active"] = *input.IsActive
	}

	var updated *models.ProductReview
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		reviews := s.reviews.WithTx(tx)
		current, err := s.owned(ctx, reviews, id, input.CustomerID)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			updated = current
			return nil
		}
		if updated, err = reviews.Update(ctx, id, data); err != nil {
			return err
		}
		product, err := s.products.WithTx(tx).FindByIDOrThrow(ctx, current.ProductID)
		if err != nil {
			return err
		}
		return RefreshRatings(ctx, tx, product.ID, product.VendorID)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a review. customerID must own it unless it is uuid.Nil.
func (s *service) Delete(ctx context.Context, id, customerID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		reviews := s.reviews.WithTx(tx)
		current, err := s.owned(ctx, reviews, id, customerID)
		if err != nil {
			return err
		}
		if _, err := reviews.Delete(ctx, id); err != nil {
			return err
		}
		product, err := s.products.WithTx(tx).FindByIDOrThrow(ctx, current.ProductID)
		if err != nil {
			return err
		}
		return RefreshRatings(ctx, tx, product.ID, product.VendorID)
	})
}

func (s *service) List(ctx context.Context, productID uuid.UUID, args query.FindManyArgs) ([]models.ProductReview, error) {
	scope := query.Eq("product_id", productID)
	if args.Where != nil {
		scope = query.And(scope, *args.Where)
	}
	args.Where = &scope
	if len(args.OrderBy) == 0 {
		args.OrderBy = []query.OrderBy{query.Desc("created_at")}
	}
	return s.reviews.FindMany(ctx, args)
}

func (s *service) owned(ctx context.Context, reviews *repo.Repository[models.ProductReview], id, customerID uuid.UUID) (*models.ProductReview, error) {
	current, err := reviews.FindByIDOrThrow(ctx, id)
	if err != nil {
		return nil, err
	}
	if customerID != uuid.Nil && current.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "review belongs to another customer")
	}
	return current, nil
}

func validateRating(rating int) error {
	if rating < minRating || rating > maxRating {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("rating must be between %d and %d", minRating, maxRating))
	}
	return nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}

func hasDeliveredPurchase(ctx context.Context, tx *gorm.DB, customerID, productID uuid.UUID) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&models.OrderItem{}).
		Joins("LEFT JOIN vendor_orders ON vendor_orders.id = order_items.vendor_order_id").
		Joins("JOIN orders ON orders.id = COALESCE(order_items.order_id, vendor_orders.order_id)").
		Where("orders.customer_id = ? AND order_items.product_id = ?", customerID, productID).
		Where("orders.status = ? OR vendor_orders.status = ?", enums.OrderStatusDelivered, enums.OrderStatusDelivered).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
