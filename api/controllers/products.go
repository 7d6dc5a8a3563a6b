package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	"github.com/angelmondragon/marketplace-backend/internal/products"
	"github.com/angelmondragon/marketplace-backend/internal/reviews"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
	"github.com/angelmondragon/marketplace-backend/pkg/types"
)

type inventoryPayload struct {
	Quantity          int   `json:"quantity" validate:"gte=0"`
	LowStockThreshold int   `json:"lowStockThreshold" validate:"gte=0"`
	TrackQuantity     *bool `json:"trackQuantity"`
}

func (p *inventoryPayload) toInput() *products.InventoryInput {
	if p == nil {
		return nil
	}
	return &products.InventoryInput{
		Quantity:          p.Quantity,
		LowStockThreshold: p.LowStockThreshold,
		TrackQuantity:     p.TrackQuantity,
	}
}

type createProductRequest struct {
	VendorID       *uuid.UUID        `json:"vendorId"`
	Name           string            `json:"name" validate:"required,max=200"`
	Description    string            `json:"description"`
	Price          decimal.Decimal   `json:"price"`
	ComparePrice   *decimal.Decimal  `json:"comparePrice"`
	SKU            *string           `json:"sku"`
	Category       string            `json:"category" validate:"required"`
	Subcategory    *string           `json:"subcategory"`
	Brand          *string           `json:"brand"`
	Images         []string          `json:"images" validate:"omitempty,dive,url"`
	Specifications types.JSONMap     `json:"specifications"`
	IsActive       *bool             `json:"isActive"`
	Inventory      *inventoryPayload `json:"inventory"`
}

type updateProductRequest struct {
	Name              *string          `json:"name" validate:"omitempty,max=200"`
	Description       *string          `json:"description"`
	Price             *decimal.Decimal `json:"price"`
	ComparePrice      *decimal.Decimal `json:"comparePrice"`
	ClearComparePrice bool             `json:"clearComparePrice"`
	SKU               *string          `json:"sku"`
	Category          *string          `json:"category"`
	Subcategory       *string          `json:"subcategory"`
	Brand             *string          `json:"brand"`
	Images            *[]string        `json:"images"`
	Specifications    types.JSONMap    `json:"specifications"`
	IsActive          *bool            `json:"isActive"`
}

type createReviewRequest struct {
	Rating int     `json:"rating" validate:"required,min=1,max=5"`
	Title  *string `json:"title" validate:"omitempty,max=200"`
	Review *string `json:"review" validate:"omitempty,max=5000"`
}

// visibleProducts limits non-admins to active listings. Vendors also see
// their own inactive ones.
func visibleProducts(p middleware.Principal, where *query.Filter) *query.Filter {
	switch {
	case p.Is(enums.ActorRoleAdmin):
		return where
	case p.Is(enums.ActorRoleVendor) && p.VendorID != nil:
		return scoped(where, query.Or(query.Eq("is_active", true), query.Eq("vendor_id", *p.VendorID)))
	default:
		return scoped(where, query.Eq("is_active", true))
	}
}

// ownedProduct loads a product the caller may manage. Products of other
// vendors read as missing.
func ownedProduct(r *http.Request, svc products.Service, p middleware.Principal) (*models.Product, error) {
	id, err := validators.PathUUID(r, "id")
	if err != nil {
		return nil, err
	}
	product, err := svc.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !p.OwnsVendor(product.VendorID) {
		return nil, pkgerrors.NotFound("Product")
	}
	return product, nil
}

func ProductCreate(svc products.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload createProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		vendorID := payload.VendorID
		if p.Is(enums.ActorRoleVendor) {
			vendorID = p.VendorID
		}
		if vendorID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "vendorId is required"))
			return
		}

		product, err := svc.Create(r.Context(), products.CreateInput{
			VendorID:       *vendorID,
			Name:           payload.Name,
			Description:    payload.Description,
			Price:          payload.Price,
			ComparePrice:   payload.ComparePrice,
			SKU:            payload.SKU,
			Category:       payload.Category,
			Subcategory:    payload.Subcategory,
			Brand:          payload.Brand,
			Images:         payload.Images,
			Specifications: payload.Specifications,
			IsActive:       payload.IsActive,
			Inventory:      payload.Inventory.toInput(),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, product)
	}
}

// ProductList filters by the optional category and vendorId query parameters.
func ProductList(svc products.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		args, err := pageArgs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		vendorID, err := validators.ParseQueryUUID(r, "vendorId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var filters []query.Filter
		if category := validators.SanitizeString(r.URL.Query().Get("category"), 100); category != "" {
			filters = append(filters, query.Eq("category", category))
		}
		if vendorID != nil {
			filters = append(filters, query.Eq("vendor_id", *vendorID))
		}
		if len(filters) > 0 {
			args.Where = query.And(filters...).Ptr()
		}
		args.Where = visibleProducts(p, args.Where)
		args.OrderBy = []query.OrderBy{query.Desc("created_at")}

		list, err := svc.List(r.Context(), args)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func ProductSearch(svc products.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		args, err := searchArgs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		args.Where = visibleProducts(p, args.Where)
		list, err := svc.List(r.Context(), args)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func ProductGet(svc products.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.PathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		product, err := svc.Get(r.Context(), id, query.Include{Relation: "inventory"})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !product.IsActive && !p.OwnsVendor(product.VendorID) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.NotFound("Product"))
			return
		}
		responses.WriteSuccess(w, product)
	}
}

func ProductUpdate(svc products.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		product, err := ownedProduct(r, svc, p)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload updateProductRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		updated, err := svc.Update(r.Context(), product.ID, products.UpdateInput{
			Name:              payload.Name,
			Description:       payload.Description,
			Price:             payload.Price,
			ComparePrice:      payload.ComparePrice,
			ClearComparePrice: payload.ClearComparePrice,
			SKU:               payload.SKU,
			Category:          payload.Category,
			Subcategory:       payload.Subcategory,
			Brand:             payload.Brand,
			Images:            payload.Images,
			Specifications:    payload.Specifications,
			IsActive:          payload.IsActive,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}

func ProductDelete(svc products.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		product, err := ownedProduct(r, svc, p)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), product.ID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

func ProductSetInventory(svc products.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		product, err := ownedProduct(r, svc, p)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload inventoryPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		inventory, err := svc.SetInventory(r.Context(), product.ID, *payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, inventory)
	}
}

func ProductReviewList(svc reviews.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.PathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		args, err := pageArgs(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.List(r.Context(), id, args)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func ProductReviewCreate(svc reviews.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.PathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload createReviewRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		review, err := svc.Create(r.Context(), reviews.CreateInput{
			ProductID:  id,
			CustomerID: p.SubjectID,
			Rating:     payload.Rating,
			Title:      payload.Title,
			Review:     payload.Review,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, review)
	}
}
