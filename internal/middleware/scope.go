package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/checkoutd/checkoutd/internal/auth"
)

// RequireScope returns middleware that enforces scope requirements.
// Must be applied after Auth. Having ANY of the required scopes is enough;
// the admin scope satisfies every requirement.
func RequireScope(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.AuthFromContext(r.Context()) == nil {
				writeMiddlewareError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			if auth.ScopeGranted(r.Context(), required...) {
				next.ServeHTTP(w, r)
				return
			}

			writeMiddlewareError(w, http.StatusForbidden, "FORBIDDEN",
				"Insufficient permissions. Required scope: "+required[0])
		})
	}
}

// writeMiddlewareError writes the standard error envelope.
func writeMiddlewareError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
