package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func orderRequest(body, key string, subject uuid.UUID) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(WithPrincipal(req.Context(), Principal{SubjectID: subject, Role: enums.ActorRoleCustomer}))
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	called := false
	handler := Idempotency(newFakeStore(), DefaultIdempotencyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, orderRequest(`{"foo":"bar"}`, "", uuid.New()))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.False(t, called)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Idempotency(newFakeStore(), CriticalIdempotencyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	subject := uuid.New()

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, orderRequest(`{"foo":"bar"}`, "abc", subject))
	require.Equal(t, http.StatusCreated, first.Code)

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, orderRequest(`{"foo":"bar"}`, "abc", subject))
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, strings.TrimSpace(replay.Body.String()))
	assert.Equal(t, 1, calls)

	other := httptest.NewRecorder()
	handler.ServeHTTP(other, orderRequest(`{"foo":"bar"}`, "abc", uuid.New()))
	assert.Equal(t, 2, calls, "keys are scoped per subject")
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	handler := Idempotency(newFakeStore(), DefaultIdempotencyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	subject := uuid.New()

	handler.ServeHTTP(httptest.NewRecorder(), orderRequest(`{"foo":"bar"}`, "xyz", subject))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, orderRequest(`{"foo":"diff"}`, "xyz", subject))
	assert.Equal(t, http.StatusConflict, resp.Code)

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, string(pkgerrors.CodeConflict), payload.Error.Code)
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	var calls int
	handler := Idempotency(newFakeStore(), DefaultIdempotencyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	subject := uuid.New()

	handler.ServeHTTP(httptest.NewRecorder(), orderRequest(`{}`, "retry", subject))
	handler.ServeHTTP(httptest.NewRecorder(), orderRequest(`{}`, "retry", subject))
	assert.Equal(t, 2, calls)
}
