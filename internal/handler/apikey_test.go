package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/handler/dto"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
)

type memoryKeys struct {
	keys map[string]*model.APIKey
}

func (m *memoryKeys) CreateAPIKey(_ context.Context, k *model.APIKey) error {
	m.keys[k.ID] = k
	return nil
}

func (m *memoryKeys) GetAPIKeyByID(_ context.Context, id string) (*model.APIKey, error) {
	k, ok := m.keys[id]
	if !ok {
		return nil, repository.ErrAPIKeyNotFound
	}
	return k, nil
}

func (m *memoryKeys) ListAPIKeysByUserID(_ context.Context, userID string) ([]*model.APIKey, error) {
	var out []*model.APIKey
	for _, k := range m.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memoryKeys) RevokeAPIKey(_ context.Context, id string) error {
	now := time.Now()
	m.keys[id].RevokedAt = &now
	return nil
}

type invalidations []string

func (i *invalidations) InvalidateKey(_ context.Context, keyID string) error {
	*i = append(*i, keyID)
	return nil
}

func apiKeyRouter(h *APIKeyHandler, ac *model.AuthContext) http.Handler {
	r := chi.NewRouter()
	r.Use(withAuth(ac))
	r.Get("/v1/api-keys", h.List)
	r.Post("/v1/api-keys", h.Create)
	r.Delete("/v1/api-keys/{key_id}", h.Revoke)
	r.Post("/v1/api-keys/{key_id}/rotate", h.Rotate)
	return r
}

func TestAPIKeyHandler_Lifecycle(t *testing.T) {
	store := &memoryKeys{keys: map[string]*model.APIKey{}}
	var dropped invalidations
	ac := &model.AuthContext{UserID: "user-1", Scopes: []string{model.ScopeAdmin}}
	router := apiKeyRouter(NewAPIKeyHandler(store, &dropped, auth.EnvTest, discardLogger()), ac)

	rec := do(t, router, http.MethodPost, "/v1/api-keys", map[string]any{
		"name":   "ci",
		"scopes": []string{model.ScopeCheckoutsWrite},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[dto.APIKeyCreateResponse](t, rec)
	parsed, err := auth.ParseAPIKey(created.Key)
	require.NoError(t, err)
	assert.Equal(t, created.KeyPrefix, parsed.Prefix)
	assert.Equal(t, []string{model.ScopeCheckoutsWrite}, created.Scopes)

	rec = do(t, router, http.MethodPost, "/v1/api-keys/"+created.ID+"/rotate", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rotated := decodeBody[dto.APIKeyRotateResponse](t, rec)
	assert.Equal(t, created.ID, rotated.OldKeyID)
	assert.NotEqual(t, created.Key, rotated.NewKey.Key)
	assert.True(t, store.keys[created.ID].IsRevoked())
	assert.Equal(t, invalidations{created.ID}, dropped)

	// The rotated key is gone for every further operation.
	rec = do(t, router, http.MethodDelete, "/v1/api-keys/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodDelete, "/v1/api-keys/"+rotated.NewKey.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, invalidations{created.ID, rotated.NewKey.ID}, dropped)

	rec = do(t, router, http.MethodGet, "/v1/api-keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[dto.ListResponse[dto.APIKeyResponse]](t, rec).Items, 2)
}

func TestAPIKeyHandler_Create(t *testing.T) {
	store := &memoryKeys{keys: map[string]*model.APIKey{}}
	ac := &model.AuthContext{UserID: "user-1", Scopes: []string{model.ScopeCheckoutsRead}}
	router := apiKeyRouter(NewAPIKeyHandler(store, nil, auth.EnvTest, discardLogger()), ac)

	rec := do(t, router, http.MethodPost, "/v1/api-keys", map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{model.ScopeCheckoutsRead}, decodeBody[dto.APIKeyCreateResponse](t, rec).Scopes)

	rec = do(t, router, http.MethodPost, "/v1/api-keys", map[string]any{"scopes": []string{model.ScopeAdmin}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/api-keys", map[string]any{"scopes": []string{"everything"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Len(t, store.keys, 1)
}

func TestAPIKeyHandler_OtherUsersKey(t *testing.T) {
	store := &memoryKeys{keys: map[string]*model.APIKey{
		"key-9": {ID: "key-9", UserID: "user-9", CreatedAt: time.Now()},
	}}
	router := apiKeyRouter(NewAPIKeyHandler(store, nil, auth.EnvTest, discardLogger()), &model.AuthContext{UserID: "user-1"})

	rec := do(t, router, http.MethodDelete, "/v1/api-keys/key-9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, store.keys["key-9"].IsRevoked())

	rec = do(t, router, http.MethodPost, "/v1/api-keys/key-9/rotate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, store.keys, 1)
}
