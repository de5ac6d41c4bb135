package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/handler/dto"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
)

// APIKeyStore persists API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// KeyInvalidator drops cached credentials of a revoked key.
type KeyInvalidator interface {
	InvalidateKey(ctx context.Context, keyID string) error
}

// APIKeyHandler handles API key management endpoints.
type APIKeyHandler struct {
	keys        APIKeyStore
	invalidator KeyInvalidator
	env         string
	logger      *slog.Logger
}

// NewAPIKeyHandler creates a new APIKeyHandler. invalidator may be nil.
func NewAPIKeyHandler(keys APIKeyStore, invalidator KeyInvalidator, env string, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		keys:        keys,
		invalidator: invalidator,
		env:         env,
		logger:      logger.With("handler", "apikey"),
	}
}

// Create handles POST /v1/api-keys
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac := auth.AuthFromContext(r.Context())

	var req dto.APIKeyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = []string{model.ScopeCheckoutsRead}
	}
	// A credential never mints a key broader than itself.
	for _, s := range scopes {
		if !ac.HasScope(s) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Cannot grant scope "+s)
			return
		}
	}

	key, plaintext, err := h.newKey(ac.UserID, req.Name, scopes, model.TierFree)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if err := h.keys.CreateAPIKey(r.Context(), key); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("API key created",
		"key_id", key.ID,
		"key_prefix", key.KeyPrefix,
		"user_id", key.UserID,
	)
	writeJSON(w, http.StatusCreated, dto.APIKeyCreateResponse{
		APIKeyResponse: dto.NewAPIKeyResponse(key),
		Key:            plaintext,
	})
}

// List handles GET /v1/api-keys
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	ac := auth.AuthFromContext(r.Context())

	keys, err := h.keys.ListAPIKeysByUserID(r.Context(), ac.UserID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewListResponse(dto.Map(keys, dto.NewAPIKeyResponse), len(keys), max(len(keys), 1)))
}

// Revoke handles DELETE /v1/api-keys/{key_id}
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	if err := h.keys.RevokeAPIKey(r.Context(), key.ID); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	h.invalidate(r.Context(), key.ID)

	h.logger.Info("API key revoked", "key_id", key.ID, "user_id", key.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// Rotate handles POST /v1/api-keys/{key_id}/rotate
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	oldKey, ok := h.ownedKey(w, r)
	if !ok {
		return
	}

	newKey, plaintext, err := h.newKey(oldKey.UserID, oldKey.Name, oldKey.Scopes, oldKey.RateLimitTier)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if err := h.keys.CreateAPIKey(r.Context(), newKey); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	// The replacement exists; a failed revoke leaves both keys usable.
	if err := h.keys.RevokeAPIKey(r.Context(), oldKey.ID); err != nil {
		h.logger.Error("failed to revoke rotated API key", "key_id", oldKey.ID, "error", err)
	}
	h.invalidate(r.Context(), oldKey.ID)

	h.logger.Info("API key rotated",
		"old_key_id", oldKey.ID,
		"new_key_id", newKey.ID,
		"user_id", oldKey.UserID,
	)
	writeJSON(w, http.StatusCreated, dto.APIKeyRotateResponse{
		OldKeyID:        oldKey.ID,
		OldKeyRevokedAt: newKey.CreatedAt,
		NewKey: dto.APIKeyCreateResponse{
			APIKeyResponse: dto.NewAPIKeyResponse(newKey),
			Key:            plaintext,
		},
	})
}

func (h *APIKeyHandler) newKey(userID, name string, scopes []string, tier string) (*model.APIKey, string, error) {
	generated, err := auth.GenerateAPIKey(h.env)
	if err != nil {
		return nil, "", err
	}
	return &model.APIKey{
		ID:            uuid.NewString(),
		UserID:        userID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        scopes,
		RateLimitTier: tier,
		Name:          name,
		CreatedAt:     time.Now().UTC(),
	}, generated.Plaintext, nil
}

// ownedKey loads a live key of the caller. Other users' keys and revoked
// keys are reported as not found.
func (h *APIKeyHandler) ownedKey(w http.ResponseWriter, r *http.Request) (*model.APIKey, bool) {
	ac := auth.AuthFromContext(r.Context())
	key, err := h.keys.GetAPIKeyByID(r.Context(), chi.URLParam(r, "key_id"))
	if err == nil && (key.UserID != ac.UserID || key.IsRevoked()) {
		err = repository.ErrAPIKeyNotFound
	}
	if err != nil {
		handleServiceError(w, h.logger, err)
		return nil, false
	}
	return key, true
}

func (h *APIKeyHandler) invalidate(ctx context.Context, keyID string) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.InvalidateKey(ctx, keyID); err != nil {
		h.logger.Warn("failed to invalidate cached credential", "key_id", keyID, "error", err)
	}
}
