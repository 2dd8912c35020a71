package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deploygate/internal/storage"
)

type fakeKeyStore struct {
	validKey string
	key      *storage.APIKey
}

func (f *fakeKeyStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	return "", nil
}

func (f *fakeKeyStore) ValidateAPIKey(ctx context.Context, key string) (*storage.APIKey, error) {
	if key == f.validKey {
		return f.key, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeKeyStore) ListAPIKeys(ctx context.Context) ([]storage.APIKey, error) {
	return nil, nil
}

func (f *fakeKeyStore) RevokeAPIKey(ctx context.Context, id string) error {
	return nil
}

func writeTestError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

func newAuthedHandler(store storage.APIKeyStore) http.Handler {
	return Middleware(store, writeTestError)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := GetAPIKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(key.Name))
	}))
}

func TestMiddleware_ValidKeyHeader(t *testing.T) {
	store := &fakeKeyStore{
		validKey: "dg_key_abc123",
		key:      &storage.APIKey{ID: "k1", Name: "ops"},
	}
	handler := newAuthedHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/force-deploy", nil)
	req.Header.Set("X-API-Key", "dg_key_abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", rec.Body.String())
}

func TestMiddleware_BearerToken(t *testing.T) {
	store := &fakeKeyStore{
		validKey: "dg_key_abc123",
		key:      &storage.APIKey{ID: "k1", Name: "ops"},
	}
	handler := newAuthedHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/force-deploy", nil)
	req.Header.Set("Authorization", "Bearer dg_key_abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_MissingKey(t *testing.T) {
	handler := newAuthedHandler(&fakeKeyStore{})

	req := httptest.NewRequest(http.MethodPost, "/force-deploy", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "API key required")
}

func TestMiddleware_InvalidKey(t *testing.T) {
	store := &fakeKeyStore{validKey: "dg_key_real"}
	handler := newAuthedHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/force-deploy", nil)
	req.Header.Set("X-API-Key", "dg_key_wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid API key")
}

func TestOptionalMiddleware_PassesWithoutKey(t *testing.T) {
	handler := OptionalMiddleware(&fakeKeyStore{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, GetAPIKeyFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, KeyPrefix))
	assert.Len(t, key, len(KeyPrefix)+KeyLength*2)

	other, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}
