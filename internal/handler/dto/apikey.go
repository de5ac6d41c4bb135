package dto

import (
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
)

// APIKeyCreateRequest is the body of POST /v1/api-keys.
type APIKeyCreateRequest struct {
	Name   string   `json:"name" validate:"max=100"`
	Scopes []string `json:"scopes" validate:"dive,oneof=checkouts:read checkouts:write orders:read organizations:read organizations:write webhooks:write admin"`
}

// APIKeyResponse is an API key without its secret.
type APIKeyResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	KeyPrefix     string     `json:"key_prefix"`
	Scopes        []string   `json:"scopes"`
	RateLimitTier string     `json:"rate_limit_tier"`
	LastUsedAt    *time.Time `json:"last_used_at"`
	RevokedAt     *time.Time `json:"revoked_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// APIKeyCreateResponse carries the plaintext key, shown once.
type APIKeyCreateResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

// APIKeyRotateResponse pairs the revoked key with its replacement.
type APIKeyRotateResponse struct {
	OldKeyID        string               `json:"old_key_id"`
	OldKeyRevokedAt time.Time            `json:"old_key_revoked_at"`
	NewKey          APIKeyCreateResponse `json:"new_key"`
}

// NewAPIKeyResponse renders an API key.
func NewAPIKeyResponse(k *model.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:            k.ID,
		Name:          k.Name,
		KeyPrefix:     k.KeyPrefix,
		Scopes:        k.Scopes,
		RateLimitTier: k.RateLimitTier,
		LastUsedAt:    k.LastUsedAt,
		RevokedAt:     k.RevokedAt,
		CreatedAt:     k.CreatedAt,
	}
}
