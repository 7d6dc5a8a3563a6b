package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/internal/products"
	pkgauth "github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	dbpkg "github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox"
)

type memoryStore struct {
	mu      sync.Mutex
	values  map[string]string
	counts  map[string]int64
	pingErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryStore) Ping(context.Context) error { return m.pingErr }

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	switch v := value.(type) {
	case string:
		m.values[key] = v
	case []byte:
		m.values[key] = string(v)
	}
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memoryStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[scope]++
	return m.counts[scope] <= limit, m.counts[scope], nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.App.CORSOrigins = []string{"http://localhost:3000"}
	cfg.JWT = config.JWTConfig{Secret: "secret", Issuer: "marketplace", ExpirationMinutes: 15}
	cfg.RateLimit = config.RateLimitConfig{Window: time.Minute, Limit: 100}
	return cfg
}

func bearer(t *testing.T, cfg *config.Config, role enums.ActorRole, vendorID *uuid.UUID) string {
	t.Helper()
	token, err := pkgauth.MintAccessToken(cfg.JWT, time.Now(), pkgauth.AccessTokenPayload{
		SubjectID: uuid.New(),
		Role:      role,
		VendorID:  vendorID,
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func do(h http.Handler, method, target, auth, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	store := newMemoryStore()
	h := NewRouter(testConfig(), nil, nil, store, nil, Services{})

	w := do(h, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", w.Header().Get("X-Marketplace-Env"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	w = do(h, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	store.pingErr = context.DeadlineExceeded
	w = do(h, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(testConfig(), nil, nil, nil, nil, Services{})
	w := do(h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	h := NewRouter(testConfig(), nil, nil, nil, nil, Services{})
	w := do(h, http.MethodGet, "/api/v1/cart", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleGroups(t *testing.T) {
	cfg := testConfig()
	h := NewRouter(cfg, nil, nil, nil, nil, Services{})
	vendorID := uuid.New()

	cases := []struct {
		name   string
		method string
		target string
		auth   string
	}{
		{"customer creates vendor", http.MethodPost, "/api/v1/vendors", bearer(t, cfg, enums.ActorRoleCustomer, nil)},
		{"vendor lists vendors", http.MethodGet, "/api/v1/vendors", bearer(t, cfg, enums.ActorRoleVendor, &vendorID)},
		{"vendor reads cart", http.MethodGet, "/api/v1/cart", bearer(t, cfg, enums.ActorRoleVendor, &vendorID)},
		{"customer creates product", http.MethodPost, "/api/v1/products", bearer(t, cfg, enums.ActorRoleCustomer, nil)},
		{"customer reads vendor order", http.MethodGet, "/api/v1/vendor-orders/" + uuid.NewString(), bearer(t, cfg, enums.ActorRoleCustomer, nil)},
		{"vendor sets payment status", http.MethodPost, "/api/v1/orders/" + uuid.NewString() + "/payment-status", bearer(t, cfg, enums.ActorRoleVendor, &vendorID)},
		{"admin places order", http.MethodPost, "/api/v1/orders", bearer(t, cfg, enums.ActorRoleAdmin, nil)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(h, tc.method, tc.target, tc.auth, "{}")
			assert.Equal(t, http.StatusForbidden, w.Code)
		})
	}
}

func TestOrderPlacementNeedsIdempotencyKey(t *testing.T) {
	cfg := testConfig()
	h := NewRouter(cfg, nil, nil, newMemoryStore(), nil, Services{})

	w := do(h, http.MethodPost, "/api/v1/orders", bearer(t, cfg, enums.ActorRoleCustomer, nil), "{}")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimitApplies(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Limit = 1
	h := NewRouter(cfg, nil, nil, newMemoryStore(), nil, Services{})
	auth := bearer(t, cfg, enums.ActorRoleVendor, func() *uuid.UUID { id := uuid.New(); return &id }())

	first := do(h, http.MethodGet, "/api/v1/cart", auth, "")
	assert.Equal(t, http.StatusForbidden, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := do(h, http.MethodGet, "/api/v1/cart", auth, "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestProductListThroughRouter(t *testing.T) {
	conn := dbtest.Open(t)
	productSvc, err := products.NewService(conn, dbpkg.NewFromConn(conn, dbpkg.TxOptions{}), outbox.NewService(outbox.NewRepository(conn), nil), nil)
	require.NoError(t, err)

	vendor := models.Vendor{Name: "Acme", Email: "acme@example.com", IsActive: true}
	require.NoError(t, conn.Create(&vendor).Error)
	require.NoError(t, conn.Create(&models.Product{
		Name: "Widget", Price: decimal.NewFromInt(10), Category: "tools", VendorID: vendor.ID, IsActive: true,
	}).Error)

	cfg := testConfig()
	h := NewRouter(cfg, nil, nil, nil, nil, Services{Products: productSvc})

	w := do(h, http.MethodGet, "/api/v1/products?category=tools", bearer(t, cfg, enums.ActorRoleCustomer, nil), "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []models.Product `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "Widget", body.Data[0].Name)
}
