package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/model"
)

// DefaultMinAuthDuration pads every authentication to a constant time.
const DefaultMinAuthDuration = 200 * time.Millisecond

// APIKeyStore looks up API keys for authentication.
type APIKeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// TokenIntrospector resolves OAuth2 access tokens.
type TokenIntrospector interface {
	IntrospectAccessToken(ctx context.Context, token string) (*model.AuthContext, error)
}

// AuthCache caches resolved API key contexts.
type AuthCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext, ttl time.Duration) error
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Keys   APIKeyStore
	Tokens TokenIntrospector
	Cache  AuthCache
	// MinDuration pads failed and successful lookups alike. Zero disables it.
	MinDuration time.Duration
}

// Auth returns a middleware that authenticates API requests.
// OAuth2 access tokens are introspected; anything else must be an API key.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MinDuration > 0 {
				start := time.Now()
				defer func() {
					if elapsed := time.Since(start); elapsed < cfg.MinDuration {
						time.Sleep(cfg.MinDuration - elapsed)
					}
				}()
			}

			credential := extractCredential(r)
			if credential == "" {
				logAuthFailure(cfg.Logger, r, "missing_credential")
				writeAuthError(w)
				return
			}

			var (
				authCtx  *model.AuthContext
				cacheHit bool
				reason   string
			)
			if auth.IsAccessToken(credential) {
				authCtx, reason = authenticateToken(r.Context(), cfg, credential)
			} else {
				authCtx, cacheHit, reason = authenticateAPIKey(r.Context(), cfg, credential)
			}
			if authCtx == nil {
				logAuthFailure(cfg.Logger, r, reason)
				writeAuthError(w)
				return
			}

			cfg.Logger.Info("authentication successful",
				slog.String("subject", string(authCtx.Subject)),
				slog.String("key_id", authCtx.KeyID),
				slog.String("user_id", authCtx.UserID),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.Bool("cache_hit", cacheHit),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticateToken(ctx context.Context, cfg AuthConfig, token string) (*model.AuthContext, string) {
	if cfg.Tokens == nil {
		return nil, "oauth2_disabled"
	}
	authCtx, err := cfg.Tokens.IntrospectAccessToken(ctx, token)
	if err != nil {
		return nil, "invalid_token"
	}
	return authCtx, ""
}

func authenticateAPIKey(ctx context.Context, cfg AuthConfig, key string) (*model.AuthContext, bool, string) {
	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		return nil, false, "invalid_format"
	}

	cacheKey := auth.CredentialCacheKey(key)
	if cfg.Cache != nil {
		if cached, _ := cfg.Cache.GetAuthContext(ctx, cacheKey); cached != nil {
			return cached, true, ""
		}
	}

	keys, err := cfg.Keys.GetAPIKeysByPrefix(ctx, parsed.Prefix)
	if err != nil {
		cfg.Logger.Error("database error during auth",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(ctx)),
		)
		return nil, false, "lookup_failed"
	}

	// Prefixes can collide; verify every candidate.
	var matched *model.APIKey
	for _, k := range keys {
		if ok, err := auth.VerifySecret(key, k.KeyHash); err == nil && ok {
			matched = k
			break
		}
	}
	if matched == nil {
		return nil, false, "invalid_key"
	}

	authCtx := &model.AuthContext{
		Subject:       model.AuthSubjectAPIKey,
		KeyID:         matched.ID,
		KeyPrefix:     matched.KeyPrefix,
		UserID:        matched.UserID,
		Scopes:        matched.Scopes,
		RateLimitTier: matched.RateLimitTier,
	}
	if cfg.Cache != nil {
		_ = cfg.Cache.SetAuthContext(ctx, cacheKey, authCtx, 0)
	}

	go func(id string) {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = cfg.Keys.UpdateAPIKeyLastUsed(bg, id)
	}(matched.ID)

	return authCtx, false, ""
}

// extractCredential reads "Authorization: Bearer <token>" or "X-API-Key".
func extractCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.Header.Get("X-API-Key")
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}

// writeAuthError writes a 401 with one message for every failure.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="checkoutd"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Invalid or missing credentials","code":"UNAUTHORIZED"}`))
}
