package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/api/middleware"
	"github.com/angelmondragon/marketplace-backend/internal/analytics"
	dbpkg "github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

var monday = time.Date(2026, 4, 13, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (analytics.Service, models.Vendor) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := analytics.NewService(conn, dbpkg.NewFromConn(conn, dbpkg.TxOptions{}), nil)
	require.NoError(t, err)
	vendor := models.Vendor{Name: "Acme", Email: "acme@example.com", IsActive: true}
	require.NoError(t, conn.Create(&vendor).Error)

	for i, orders := range []int{2, 4, 6} {
		_, err := svc.Record(context.Background(), analytics.RecordInput{
			VendorID: vendor.ID, Period: enums.AnalyticsPeriodDaily, Date: monday.AddDate(0, 0, i),
			TotalOrders: orders, TotalRevenue: decimal.NewFromInt(int64(orders * 5)), TotalViews: 20,
		})
		require.NoError(t, err)
	}
	return svc, vendor
}

func request(t *testing.T, method, target string, body any, p middleware.Principal, vendorID uuid.UUID) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", vendorID.String())
	ctx := context.WithValue(middleware.WithPrincipal(req.Context(), p), chi.RouteCtxKey, rctx)
	return req.WithContext(ctx)
}

func owner(vendorID uuid.UUID) middleware.Principal {
	return middleware.Principal{SubjectID: uuid.New(), Role: enums.ActorRoleVendor, VendorID: &vendorID}
}

func TestVendorAnalyticsFiltersByRange(t *testing.T) {
	svc, vendor := setup(t)

	w := httptest.NewRecorder()
	VendorAnalytics(svc, nil)(w, request(t, http.MethodGet, "/vendors/x/analytics?period=daily&from=2026-04-14", nil, owner(vendor.ID), vendor.ID))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []models.VendorAnalytics `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, 4, body.Data[0].TotalOrders)
}

func TestVendorAnalyticsHidesOtherVendors(t *testing.T) {
	svc, vendor := setup(t)

	w := httptest.NewRecorder()
	VendorAnalytics(svc, nil)(w, request(t, http.MethodGet, "/vendors/x/analytics", nil, owner(uuid.New()), vendor.ID))
	assert.Equal(t, http.StatusNotFound, w.Code)

	admin := middleware.Principal{SubjectID: uuid.New(), Role: enums.ActorRoleAdmin}
	w = httptest.NewRecorder()
	VendorAnalytics(svc, nil)(w, request(t, http.MethodGet, "/vendors/x/analytics", nil, admin, vendor.ID))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVendorAnalyticsRejectsBadParams(t *testing.T) {
	svc, vendor := setup(t)

	for _, target := range []string{
		"/vendors/x/analytics?period=hourly",
		"/vendors/x/analytics?preset=1y",
		"/vendors/x/analytics?from=2026-04-20&to=2026-04-10",
	} {
		w := httptest.NewRecorder()
		VendorAnalytics(svc, nil)(w, request(t, http.MethodGet, target, nil, owner(vendor.ID), vendor.ID))
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestVendorAnalyticsSummary(t *testing.T) {
	svc, vendor := setup(t)

	w := httptest.NewRecorder()
	VendorAnalyticsSummary(svc, nil)(w, request(t, http.MethodPost, "/vendors/x/analytics/summary", map[string]any{"minOrders": 1}, owner(vendor.ID), vendor.ID))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []analytics.PeriodSummary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.EqualValues(t, 3, body.Data[0].Rows)
	assert.EqualValues(t, 12, body.Data[0].TotalOrders)
	assert.Equal(t, "60.00", body.Data[0].TotalRevenue.StringFixed(2))
}

func TestResolveRangePreset(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	req := httptest.NewRequest(http.MethodGet, "/?preset=7d", nil)

	from, to, err := resolveRange(req, now)
	require.NoError(t, err)
	require.NotNil(t, from)
	require.NotNil(t, to)
	assert.Equal(t, now.AddDate(0, 0, -7), *from)
	assert.Equal(t, now, *to)

	from, to, err = resolveRange(httptest.NewRequest(http.MethodGet, "/", nil), now)
	require.NoError(t, err)
	assert.Nil(t, from)
	assert.Nil(t, to)
}
