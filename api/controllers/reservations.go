package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	"github.com/angelmondragon/marketplace-backend/internal/reservations"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const maxReservationTTL = time.Hour

type reserveRequest struct {
	ProductID  uuid.UUID `json:"productId" validate:"required"`
	Quantity   int       `json:"quantity" validate:"required,min=1"`
	SessionID  *string   `json:"sessionId" validate:"omitempty,max=128"`
	TTLSeconds int       `json:"ttlSeconds" validate:"gte=0"`
}

func ReservationCreate(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reserveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ttl := time.Duration(payload.TTLSeconds) * time.Second
		if ttl > maxReservationTTL {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "ttlSeconds exceeds the maximum hold"))
			return
		}
		hold, err := svc.Reserve(r.Context(), reservations.ReserveInput{
			ProductID:  payload.ProductID,
			CustomerID: p.SubjectID,
			Quantity:   payload.Quantity,
			SessionID:  payload.SessionID,
			TTL:        ttl,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, hold)
	}
}

func ReservationList(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principal(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		holds, err := svc.ListActive(r.Context(), p.SubjectID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, holds)
	}
}

// ReservationRelease frees one of the caller's active holds.
func ReservationRelease(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
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
		holds, err := svc.ListActive(r.Context(), p.SubjectID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		owned := false
		for _, hold := range holds {
			if hold.ID == id {
				owned = true
				break
			}
		}
		if !owned {
			responses.WriteError(r.Context(), logg, w, pkgerrors.NotFound("InventoryReservation"))
			return
		}
		if err := svc.Release(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}
