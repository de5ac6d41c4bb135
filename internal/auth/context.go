package auth

import (
	"context"

	"github.com/checkoutd/checkoutd/internal/model"
)

type authKey struct{}

// ContextWithAuth binds the authenticated caller, an API key or an OAuth2
// access token, to ctx.
func ContextWithAuth(ctx context.Context, ac *model.AuthContext) context.Context {
	return context.WithValue(ctx, authKey{}, ac)
}

// AuthFromContext returns the caller bound by ContextWithAuth, or nil on
// unauthenticated routes such as the client secret checkout endpoints.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	ac, _ := ctx.Value(authKey{}).(*model.AuthContext)
	return ac
}

// ScopeGranted reports whether the caller on ctx holds any of scopes.
// The admin scope grants everything. It is false without a caller.
func ScopeGranted(ctx context.Context, scopes ...string) bool {
	ac := AuthFromContext(ctx)
	if ac == nil {
		return false
	}
	for _, scope := range scopes {
		if ac.HasScope(scope) {
			return true
		}
	}
	return false
}
