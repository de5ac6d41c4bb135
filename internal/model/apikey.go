package model

import (
	"slices"
	"strings"
	"time"
)

// Scopes granted to API keys and OAuth2 tokens.
const (
	ScopeCheckoutsRead      = "checkouts:read"
	ScopeCheckoutsWrite     = "checkouts:write"
	ScopeOrdersRead         = "orders:read"
	ScopeOrganizationsRead  = "organizations:read"
	ScopeOrganizationsWrite = "organizations:write"
	ScopeWebhooksWrite      = "webhooks:write"
	ScopeAdmin              = "admin"
)

// ValidScopes contains all valid scope values.
var ValidScopes = []string{
	ScopeCheckoutsRead,
	ScopeCheckoutsWrite,
	ScopeOrdersRead,
	ScopeOrganizationsRead,
	ScopeOrganizationsWrite,
	ScopeWebhooksWrite,
	ScopeAdmin,
}

// IsValidScope reports whether s is a known scope.
func IsValidScope(s string) bool {
	return slices.Contains(ValidScopes, s)
}

// ParseScope splits a space-delimited OAuth2 scope string.
func ParseScope(scope string) []string {
	return strings.Fields(scope)
}

// RateLimitTier constants.
const (
	TierFree      = "free"
	TierPro       = "pro"
	TierUnlimited = "unlimited"
)

// RateLimitConfig defines rate limit parameters per tier.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// TierConfigs maps tier names to their rate limit configurations.
var TierConfigs = map[string]RateLimitConfig{
	TierFree:      {RequestsPerMinute: 60, Burst: 10},
	TierPro:       {RequestsPerMinute: 600, Burst: 50},
	TierUnlimited: {RequestsPerMinute: 0, Burst: 0}, // 0 means unlimited
}

// APIKey is a long-lived personal credential.
type APIKey struct {
	ID            string
	UserID        string
	KeyHash       string
	KeyPrefix     string
	Scopes        []string
	RateLimitTier string
	Name          string
	RevokedAt     *time.Time
	LastUsedAt    *time.Time
	CreatedAt     time.Time
}

// IsRevoked returns true if the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// HasScope checks if the key has a specific scope.
// Admin scope implies all other scopes.
func (k *APIKey) HasScope(scope string) bool {
	if slices.Contains(k.Scopes, ScopeAdmin) {
		return true
	}
	return slices.Contains(k.Scopes, scope)
}

// GetRateLimitConfig returns the rate limit configuration for this key.
func (k *APIKey) GetRateLimitConfig() RateLimitConfig {
	if config, ok := TierConfigs[k.RateLimitTier]; ok {
		return config
	}
	return TierConfigs[TierFree]
}

// AuthSubject names the kind of credential behind a request.
type AuthSubject string

const (
	AuthSubjectAPIKey AuthSubject = "api_key"
	AuthSubjectOAuth2 AuthSubject = "oauth2_token"
)

// AuthContext holds authenticated request context.
// This is injected into the request context by auth middleware.
type AuthContext struct {
	Subject       AuthSubject
	KeyID         string
	KeyPrefix     string
	ClientID      string
	UserID        string
	Scopes        []string
	RateLimitTier string
}

// HasScope checks if the auth context has a specific scope.
func (a *AuthContext) HasScope(scope string) bool {
	if slices.Contains(a.Scopes, ScopeAdmin) {
		return true
	}
	return slices.Contains(a.Scopes, scope)
}
