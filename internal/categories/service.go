package categories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/repo"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
	"github.com/angelmondragon/marketplace-backend/pkg/redis"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

const defaultTreeTTL = 5 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages the category tree.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Category, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Category, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*models.Category, error)
	GetBySlug(ctx context.Context, slug string) (*models.Category, error)
	Children(ctx context.Context, parentID *uuid.UUID) ([]models.Category, error)
	Tree(ctx context.Context) ([]Node, error)
}

type CreateInput struct {
	Name        string
	Slug        *string
	Description *string
	ParentID    *uuid.UUID
	IsActive    *bool
}

// UpdateInput carries optional changes. A present ParentID with a nil value
// moves the category to the root.
type UpdateInput struct {
	Name        *string
	Slug        *string
	Description *string
	ParentID    types.NullableUUID
	IsActive    *bool
}

// Node is one category with its nested children.
type Node struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description *string   `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	Children    []Node    `json:"children"`
}

type Params struct {
	DB      *gorm.DB
	Tx      txRunner
	Cache   redis.Cache
	TreeTTL time.Duration
	Logger  *logger.Logger
}

type service struct {
	tx         txRunner
	categories *repo.Repository[models.Category]
	cache      redis.Cache
	treeTTL    time.Duration
	logg       *logger.Logger
}

// NewService builds the category service. The cache is optional.
func NewService(p Params) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	categories, err := repo.New[models.Category](p.DB)
	if err != nil {
		return nil, err
	}
	ttl := p.TreeTTL
	if ttl <= 0 {
		ttl = defaultTreeTTL
	}
	return &service{tx: p.Tx, categories: categories, cache: p.Cache, treeTTL: ttl, logg: p.Logger}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Category, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	slug, err := resolveSlug(name, input.Slug)
	if err != nil {
		return nil, err
	}
	category := &models.Category{
		ID:          uuid.New(),
		Name:        name,
		Slug:        slug,
		Description: input.Description,
		ParentID:    input.ParentID,
		IsActive:    true,
	}
	if input.IsActive != nil {
		category.IsActive = *input.IsActive
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if category.ParentID != nil {
			if err := checkParent(ctx, tx, category.ID, *category.ParentID); err != nil {
				return err
			}
		}
		return s.categories.WithTx(tx).Create(ctx, category)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return category, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*models.Category, error) {
	data := query.Data{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name cannot be empty")
		}
		data["name"] = name
	}
	if input.Slug != nil {
		slug, err := resolveSlug("", input.Slug)
		if err != nil {
			return nil, err
		}
		data["slug"] = slug
	}
	if input.Description != nil {
		data["description"] = *input.Description
	}
	if input.IsActive != nil {
		data["is_active"] = *input.IsActive
	}
	if input.ParentID.Valid {
		if input.ParentID.Value == nil {
			data["parent_id"] = nil
		} else {
			data["parent_id"] = *input.ParentID.Value
		}
	}

	var updated *models.Category
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		categories := s.categories.WithTx(tx)
		current, err := categories.FindByIDOrThrow(ctx, id)
		if err != nil {
			return err
		}
		if input.ParentID.Valid && input.ParentID.Value != nil {
			if err := checkParent(ctx, tx, current.ID, *input.ParentID.Value); err != nil {
				return err
			}
		}
		if len(data) == 0 {
			updated = current
			return nil
		}
		updated, err = categories.Update(ctx, id, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// Delete removes a leaf category.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		categories := s.categories.WithTx(tx)
		children, err := categories.Count(ctx, query.Eq("parent_id", id).Ptr())
		if err != nil {
			return err
		}
		if children > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "category has child categories").
				WithDetails(map[string]any{"children": children})
		}
		_, err = categories.Delete(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	return s.categories.FindByIDOrThrow(ctx, id)
}

func (s *service) GetBySlug(ctx context.Context, slug string) (*models.Category, error) {
	return s.categories.FindUniqueOrThrow(ctx, query.UniqueKey{"slug": strings.ToLower(strings.TrimSpace(slug))})
}

// Children lists the direct children of parentID, or the roots when it is nil.
func (s *service) Children(ctx context.Context, parentID *uuid.UUID) ([]models.Category, error) {
	where := query.IsNull("parent_id")
	if parentID != nil {
		where = query.Eq("parent_id", *parentID)
	}
	return s.categories.FindMany(ctx, query.FindManyArgs{
		Where:   &where,
		OrderBy: []query.OrderBy{query.Asc("name")},
	})
}

// Tree returns the whole category forest, served from cache when warm.
func (s *service) Tree(ctx context.Context) ([]Node, error) {
	key := s.treeKey()
	if s.cache != nil {
		var cached []Node
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "category tree cache read failed")
		}
		if hit {
			return cached, nil
		}
	}

	rows, err := s.categories.FindMany(ctx, query.FindManyArgs{OrderBy: []query.OrderBy{query.Asc("name")}})
	if err != nil {
		return nil, err
	}
	tree := buildTree(rows)

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, tree, s.treeTTL); err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "category tree cache write failed")
		}
	}
	return tree, nil
}

func (s *service) treeKey() string {
	return s.cache.CacheKey("categories", "tree")
}

func (s *service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.treeKey()); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "category tree cache invalidation failed")
	}
}

func buildTree(rows []models.Category) []Node {
	byParent := make(map[uuid.UUID][]models.Category, len(rows))
	known := make(map[uuid.UUID]struct{}, len(rows))
	for _, row := range rows {
		known[row.ID] = struct{}{}
	}
	var roots []models.Category
	for _, row := range rows {
		if row.ParentID == nil {
			roots = append(roots, row)
			continue
		}
		if _, ok := known[*row.ParentID]; !ok {
			roots = append(roots, row)
			continue
		}
		byParent[*row.ParentID] = append(byParent[*row.ParentID], row)
	}

	var build func(rows []models.Category, depth int) []Node
	build = func(rows []models.Category, depth int) []Node {
		nodes := make([]Node, 0, len(rows))
		for _, row := range rows {
			node := Node{
				ID:          row.ID,
				Name:        row.Name,
				Slug:        row.Slug,
				Description: row.Description,
				IsActive:    row.IsActive,
				Children:    []Node{},
			}
			if depth < maxAncestryDepth {
				node.Children = build(byParent[row.ID], depth+1)
			}
			nodes = append(nodes, node)
		}
		return nodes
	}
	return build(roots, 0)
}
