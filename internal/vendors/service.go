package vendors

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages marketplace sellers.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Vendor, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	GetByEmail(ctx context.Context, email string) (*models.Vendor, error)
	List(ctx context.Context, args query.FindManyArgs) ([]models.Vendor, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Vendor, error)
	Verify(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ActiveVendorIDs(ctx context.Context) ([]uuid.UUID, error)
}

// CreateInput is the payload for a new vendor.
type CreateInput struct {
	Name        string
	Email       string
	Phone       *string
	Address     *types.Address
	Description *string
}

// UpdateInput carries optional changes; nil fields are left alone.
type UpdateInput struct {
	Name        *string
	Email       *string
	Phone       *string
	Address     *types.Address
	Description *string
	IsActive    *bool
}

type service struct {
	tx        txRunner
	vendors   *repo.Repository[models.Vendor]
	products  *repo.Repository[models.Product]
	analytics *repo.Repository[models.VendorAnalytics]
	logg      *logger.Logger
}

// NewService builds the vendor service over conn.
func NewService(conn *gorm.DB, tx txRunner, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	vendors, err := repo.New[models.Vendor](conn)
	if err != nil {
		return nil, err
	}
	products, err := repo.New[models.Product](conn)
	if err != nil {
		return nil, err
	}
	analytics, err := repo.New[models.VendorAnalytics](conn)
	if err != nil {
		return nil, err
	}
	return &service{tx: tx, vendors: vendors, products: products, analytics: analytics, logg: logg}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Vendor, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if input.Address != nil {
		addr := input.Address.Normalize()
		if err := addr.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid address")
		}
		input.Address = &addr
	}

	vendor := &models.Vendor{
		Name:        name,
		Email:       email,
		Phone:       input.Phone,
		Address:     input.Address,
		Description: input.Description,
		IsActive:    true,
	}
	if err := s.vendors.Create(ctx, vendor); err != nil {
		return nil, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithVendorID(ctx, vendor.ID.String()), "vendor created")
	}
	return vendor, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	return s.vendors.FindByIDOrThrow(ctx, id)
}

func (s *service) GetByEmail(ctx context.Context, email string) (*models.Vendor, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return s.vendors.FindUniqueOrThrow(ctx, query.UniqueKey{"email": normalized})
}

func (s *service) List(ctx context.Context, args query.FindManyArgs) ([]models.Vendor, error) {
	return s.vendors.FindMany(ctx, args)
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Vendor, error) {
	data := query.Data{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name cannot be empty")
		}
		data["name"] = name
	}
	if input.Email != nil {
		email, err := normalizeEmail(*input.Email)
		if err != nil {
			return nil, err
		}
		data["email"] = email
	}
	if input.Phone != nil {
		data["phone"] = *input.Phone
	}
	if input.Address != nil {
		addr := input.Address.Normalize()
		if err := addr.Validate(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid address")
		}
		data["address"] = addr
	}
	if input.Description != nil {
		data["description"] = *input.Description
	}
	if input.IsActive != nil {
		data["is_active"] = *input.IsActive
	}
	if len(data) == 0 {
		return s.Get(ctx, id)
	}
	return s.vendors.Update(ctx, id, data)
}

func (s *service) Verify(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	return s.vendors.Update(ctx, id, query.Data{"is_verified": true})
}

func (s *service) Deactivate(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	return s.vendors.Update(ctx, id, query.Data{"is_active": false})
}

// Delete removes a vendor without products. Its analytics rows go with it.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		vendors := s.vendors.WithTx(tx)
		if _, err := vendors.FindByIDOrThrow(ctx, id); err != nil {
			return err
		}
		products, err := s.products.WithTx(tx).Count(ctx, query.Eq("vendor_id", id).Ptr())
		if err != nil {
			return err
		}
		if products > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "vendor still has products").
				WithDetails(map[string]any{"products": products})
		}
		if _, err := s.analytics.WithTx(tx).DeleteMany(ctx, query.Eq("vendor_id", id).Ptr()); err != nil {
			return err
		}
		_, err = vendors.Delete(ctx, id)
		return err
	})
}

// ActiveVendorIDs lists every vendor that is still selling.
func (s *service) ActiveVendorIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.vendors.FindMany(ctx, query.FindManyArgs{
		Where:   query.Eq("is_active", true).Ptr(),
		OrderBy: []query.OrderBy{query.Asc("id")},
		Select:  []string{"id"},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "email is invalid")
	}
	return email, nil
}
