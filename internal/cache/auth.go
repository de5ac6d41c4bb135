package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
)

const (
	// authCachePrefix is the Redis key prefix for auth context cache.
	authCachePrefix = "auth:ctx:"
	// authKeyIndexPrefix indexes cache entries by credential id.
	authKeyIndexPrefix = "auth:key:"
	// authCacheTTL is the time-to-live for cached auth contexts.
	authCacheTTL = 5 * time.Minute
)

// CachedAuthContext represents auth context stored in Redis.
type CachedAuthContext struct {
	Subject       string   `json:"sub"`
	KeyID         string   `json:"key_id"`
	KeyPrefix     string   `json:"key_prefix,omitempty"`
	ClientID      string   `json:"client_id,omitempty"`
	UserID        string   `json:"user_id"`
	Scopes        []string `json:"scopes"`
	RateLimitTier string   `json:"rate_limit_tier"`
}

func newCachedAuthContext(a *model.AuthContext) CachedAuthContext {
	return CachedAuthContext{
		Subject:       string(a.Subject),
		KeyID:         a.KeyID,
		KeyPrefix:     a.KeyPrefix,
		ClientID:      a.ClientID,
		UserID:        a.UserID,
		Scopes:        a.Scopes,
		RateLimitTier: a.RateLimitTier,
	}
}

func (c CachedAuthContext) toModel() *model.AuthContext {
	return &model.AuthContext{
		Subject:       model.AuthSubject(c.Subject),
		KeyID:         c.KeyID,
		KeyPrefix:     c.KeyPrefix,
		ClientID:      c.ClientID,
		UserID:        c.UserID,
		Scopes:        c.Scopes,
		RateLimitTier: c.RateLimitTier,
	}
}

// GetAuthContext retrieves a cached auth context by cache key.
// Returns nil on a miss or a corrupt entry.
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, authCachePrefix+cacheKey).Bytes()
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	var cached CachedAuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, nil //nolint:nilerr
	}
	return cached.toModel(), nil
}

// SetAuthContext caches an auth context and indexes it under its key id.
// ttl caps the entry lifetime; zero uses the default.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext, ttl time.Duration) error {
	if ttl <= 0 || ttl > authCacheTTL {
		ttl = authCacheTTL
	}

	data, err := json.Marshal(newCachedAuthContext(auth))
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	indexKey := authKeyIndexPrefix + auth.KeyID
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, authCachePrefix+cacheKey, data, ttl)
	pipe.SAdd(ctx, indexKey, cacheKey)
	pipe.Expire(ctx, indexKey, authCacheTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteAuthContext removes a single cached auth context.
func (c *Cache) DeleteAuthContext(ctx context.Context, cacheKey string) error {
	return c.client.Del(ctx, authCachePrefix+cacheKey).Err()
}

// InvalidateKey removes every cached auth context of a credential.
// Called when an API key or OAuth2 token is revoked.
func (c *Cache) InvalidateKey(ctx context.Context, keyID string) error {
	indexKey := authKeyIndexPrefix + keyID
	members, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("read auth index: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, authCachePrefix+m)
	}
	keys = append(keys, indexKey)
	return c.client.Del(ctx, keys...).Err()
}
