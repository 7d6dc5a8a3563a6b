package wishlist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
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

type Service interface {
	GetOrCreate(ctx context.Context, customerID uuid.UUID) (*models.Wishlist, error)
	AddItems(ctx context.Context, customerID uuid.UUID, productIDs ...uuid.UUID) (int64, error)
	RemoveItem(ctx context.Context, customerID, productID uuid.UUID) error
	List(ctx context.Context, customerID uuid.UUID) ([]models.WishlistItem, error)
	Delete(ctx context.Context, customerID uuid.UUID) error
}

type service struct {
	tx        txRunner
	wishlists *repo.Repository[models.Wishlist]
	items     *repo.Repository[models.WishlistItem]
	products  *repo.Repository[models.Product]
	logg      *logger.Logger
}

func NewService(conn *gorm.DB, tx txRunner, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	wishlists, err := repo.New[models.Wishlist](conn)
	if err != nil {
		return nil, err
	}
	items, err := repo.New[models.WishlistItem](conn)
	if err != nil {
		return nil, err
	}
	products, err := repo.New[models.Product](conn)
	if err != nil {
		return nil, err
	}
	return &service{tx: tx, wishlists: wishlists, items: items, products: products, logg: logg}, nil
}

func (s *service) GetOrCreate(ctx context.Context, customerID uuid.UUID) (*models.Wishlist, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	return s.wishlists.Upsert(ctx, query.UniqueKey{"customer_id": customerID}, &models.Wishlist{CustomerID: customerID}, nil)
}

// AddItems saves products to the customer's wishlist. Products already saved are
// skipped; the count of newly saved products is returned.
func (s *service) AddItems(ctx context.Context, customerID uuid.UUID, productIDs ...uuid.UUID) (int64, error) {
	if len(productIDs) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "at least one product is required")
	}
	if customerID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}

	seen := make(map[uuid.UUID]struct{}, len(productIDs))
	ids := make([]any, 0, len(productIDs))
	for _, id := range productIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	var added int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		known, err := s.products.WithTx(tx).Count(ctx, query.In("id", ids...).Ptr())
		if err != nil {
			return err
		}
		if known != int64(len(ids)) {
			return pkgerrors.NotFound("Product")
		}
		list, err := s.wishlists.WithTx(tx).Upsert(ctx,
			query.UniqueKey{"customer_id": customerID},
			&models.Wishlist{CustomerID: customerID},
			nil,
		)
		if err != nil {
			return err
		}
		rows := make([]models.WishlistItem, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, models.WishlistItem{WishlistID: list.ID, ProductID: id.(uuid.UUID)})
		}
		added, err = s.items.WithTx(tx).CreateMany(ctx, rows, true)
		return err
	})
	if err != nil {
		return 0, err
	}
	if s.logg != nil && added > 0 {
		ctx = s.logg.WithCustomerID(ctx, customerID.String())
		s.logg.Debug(s.logg.WithField(ctx, "added", added), "wishlist items saved")
	}
	return added, nil
}

// RemoveItem drops productID from the wishlist. A missing item is NOT_FOUND.
func (s *service) RemoveItem(ctx context.Context, customerID, productID uuid.UUID) error {
	list, err := s.wishlists.FindUnique(ctx, query.UniqueKey{"customer_id": customerID})
	if err != nil {
		return err
	}
	if list == nil {
		return pkgerrors.NotFound("WishlistItem")
	}
	_, err = s.items.DeleteUnique(ctx, query.UniqueKey{"wishlist_id": list.ID, "product_id": productID})
	return err
}

func (s *service) List(ctx context.Context, customerID uuid.UUID) ([]models.WishlistItem, error) {
	list, err := s.wishlists.FindUnique(ctx, query.UniqueKey{"customer_id": customerID})
	if err != nil || list == nil {
		return []models.WishlistItem{}, err
	}
	return s.items.FindMany(ctx, query.FindManyArgs{
		Where:   query.Eq("wishlist_id", list.ID).Ptr(),
		OrderBy: []query.OrderBy{query.Desc("added_at")},
		Include: []query.Include{{Relation: "product"}},
	})
}

// Delete removes the wishlist and its items.
func (s *service) Delete(ctx context.Context, customerID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		list, err := s.wishlists.WithTx(tx).FindUnique(ctx, query.UniqueKey{"customer_id": customerID})
		if err != nil {
			return err
		}
		if list == nil {
			return pkgerrors.NotFound("Wishlist")
		}
		if _, err := s.items.WithTx(tx).DeleteMany(ctx, query.Eq("wishlist_id", list.ID).Ptr()); err != nil {
			return err
		}
		_, err = s.wishlists.WithTx(tx).Delete(ctx, list.ID)
		return err
	})
}
