package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthSeedsPrincipal(t *testing.T) {
	subject := uuid.New()
	vendorID := uuid.New()
	token, err := auth.MintAccessToken(testJWT, time.Now(), auth.AccessTokenPayload{
		SubjectID: subject,
		Role:      enums.ActorRoleVendor,
		VendorID:  &vendorID,
	})
	require.NoError(t, err)

	var captured Principal
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, subject, captured.SubjectID)
	assert.Equal(t, enums.ActorRoleVendor, captured.Role)
	require.NotNil(t, captured.VendorID)
	assert.True(t, captured.OwnsVendor(vendorID))
	assert.False(t, captured.OwnsVendor(uuid.New()))
}

func TestRequireRole(t *testing.T) {
	guard := RequireRole(nil, enums.ActorRoleVendor, enums.ActorRoleAdmin)(okHandler())

	cases := []struct {
		name string
		role enums.ActorRole
		set  bool
		want int
	}{
		{"anonymous", "", false, http.StatusUnauthorized},
		{"customer", enums.ActorRoleCustomer, true, http.StatusForbidden},
		{"vendor", enums.ActorRoleVendor, true, http.StatusOK},
		{"admin", enums.ActorRoleAdmin, true, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.set {
				req = req.WithContext(WithPrincipal(req.Context(), Principal{SubjectID: uuid.New(), Role: tc.role}))
			}
			resp := httptest.NewRecorder()
			guard.ServeHTTP(resp, req)
			assert.Equal(t, tc.want, resp.Code)
		})
	}
}
