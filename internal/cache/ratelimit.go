package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/checkoutd/checkoutd/internal/model"
)

// Bucket key namespaces. API keys get one bucket each. OAuth2 tokens are
// bucketed per client and user so refreshing a token does not reset the
// bucket. Client IPs are hashed before they reach Redis.
const (
	bucketPrefixAPIKey = "ratelimit:apikey:"
	bucketPrefixOAuth2 = "ratelimit:oauth2:"
	bucketPrefixIP     = "ratelimit:ip:"
)

// RateLimitResult is the outcome of taking one token from a bucket.
type RateLimitResult struct {
	Allowed bool
	// Limit is the sustained rate in requests per minute. Zero means the
	// caller is not limited.
	Limit      int
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// tokenBucketScript refills and takes one token atomically. The bucket
// expires once it would be full again.
//
// KEYS[1] bucket, ARGV rate (tokens/s), burst, now (s, fractional).
// Returns {allowed, retry_after_ms, remaining, full_in_ms}.
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
	tokens = math.min(burst, tokens + (now - ts) * rate)
end

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	retry_ms = math.ceil((1 - tokens) / rate * 1000)
end

local full_ms = math.ceil((burst - tokens) / rate * 1000)
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], math.max(full_ms, 1000))

return {allowed, retry_ms, math.floor(tokens), full_ms}
`)

// CredentialBucket resolves the bucket of an authenticated caller and its
// tier settings. Unknown tiers fall back to free.
func CredentialBucket(ac *model.AuthContext) (string, model.RateLimitConfig) {
	tier, ok := model.TierConfigs[ac.RateLimitTier]
	if !ok {
		tier = model.TierConfigs[model.TierFree]
	}
	if ac.Subject == model.AuthSubjectOAuth2 {
		return bucketPrefixOAuth2 + ac.ClientID + ":" + ac.UserID, tier
	}
	return bucketPrefixAPIKey + ac.KeyID, tier
}

// IPBucket returns the bucket of an unauthenticated client address.
func IPBucket(ip string) string {
	return bucketPrefixIP + hashIP(ip)
}

// CheckCredential takes a token from the caller's tier bucket.
func (c *Cache) CheckCredential(ctx context.Context, ac *model.AuthContext) (*RateLimitResult, error) {
	key, tier := CredentialBucket(ac)
	if tier.RequestsPerMinute == 0 {
		return &RateLimitResult{Allowed: true}, nil
	}
	res, err := c.take(ctx, key, float64(tier.RequestsPerMinute)/60, tier.Burst)
	if err != nil {
		return nil, err
	}
	res.Limit = tier.RequestsPerMinute
	return res, nil
}

// CheckClientIP takes a token from the bucket of a client address.
func (c *Cache) CheckClientIP(ctx context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	if ratePerSecond <= 0 {
		return &RateLimitResult{Allowed: true}, nil
	}
	res, err := c.take(ctx, IPBucket(ip), float64(ratePerSecond), burst)
	if err != nil {
		return nil, err
	}
	res.Limit = ratePerSecond * 60
	return res, nil
}

func (c *Cache) take(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error) {
	now := c.now()
	nowSec := float64(now.UnixMilli()) / 1000

	out, err := tokenBucketScript.Run(ctx, c.client, []string{key}, rate, max(burst, 1), nowSec).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("rate limit %s: unexpected reply %v", key, out)
	}
	return bucketResult(now, out), nil
}

func bucketResult(now time.Time, out []int64) *RateLimitResult {
	return &RateLimitResult{
		Allowed:    out[0] == 1,
		RetryAfter: time.Duration(out[1]) * time.Millisecond,
		Remaining:  out[2],
		ResetAt:    now.Add(time.Duration(max(out[3], 0)) * time.Millisecond),
	}
}

// hashIP truncates the SHA-256 of an address to 16 hex characters.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
