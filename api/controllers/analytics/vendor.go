package analytics

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	"github.com/angelmondragon/marketplace-backend/internal/analytics"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/query"
)

type summaryRequest struct {
	From      *time.Time `json:"from"`
	To        *time.Time `json:"to"`
	MinOrders int        `json:"minOrders" validate:"gte=0"`
}

type rollupRequest struct {
	Period string    `json:"period" validate:"required"`
	Date   time.Time `json:"date"`
}

// vendorScope resolves {id} and hides vendors the caller does not own.
func vendorScope(r *http.Request) (uuid.UUID, error) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	id, err := validators.PathUUID(r, "id")
	if err != nil {
		return uuid.Nil, err
	}
	if !p.OwnsVendor(id) {
		return uuid.Nil, pkgerrors.NotFound("Vendor")
	}
	return id, nil
}

// VendorAnalytics lists a vendor's analytics rows, optionally for one ?period.
func VendorAnalytics(service analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := vendorScope(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var period enums.AnalyticsPeriod
		if raw := strings.TrimSpace(r.URL.Query().Get("period")); raw != "" {
			parsed, err := enums.ParseAnalyticsPeriod(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid period"))
				return
			}
			period = parsed
		}
		from, to, err := resolveRange(r, timeNowUTC())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		take, err := validators.ParseQueryInt(r, "take", 90, 1, 366)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, err := service.Query(ctx, analytics.QueryInput{
			VendorID: vendorID,
			Period:   period,
			From:     from,
			To:       to,
			Take:     query.Take(take),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// VendorAnalyticsSummary totals a vendor's rows per period.
func VendorAnalyticsSummary(service analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := vendorScope(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload summaryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if payload.From != nil && payload.To != nil && payload.To.Before(*payload.From) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "to must not be before from"))
			return
		}

		summary, err := service.Summary(ctx, analytics.SummaryInput{
			VendorID:  vendorID,
			From:      payload.From,
			To:        payload.To,
			MinOrders: payload.MinOrders,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// VendorAnalyticsRollup recomputes one row from order data on demand.
func VendorAnalyticsRollup(service analytics.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := vendorScope(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload rollupRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		period, err := enums.ParseAnalyticsPeriod(payload.Period)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid period"))
			return
		}
		date := payload.Date
		if date.IsZero() {
			date = timeNowUTC()
		}

		row, err := service.Rollup(ctx, vendorID, period, date)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, row)
	}
}
