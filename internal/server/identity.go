package server

import (
	"context"
	"net/http"
	"strings"
)

// identityKey is the context key for the resolved client identifier.
type identityKey struct{}

// IdentityFallback is the identifier for direct or local connections that
// carry no proxy headers.
const IdentityFallback = "local-dev"

// ResolveIdentity derives a best-effort client identifier from the request
// headers, checking them in fixed priority order. It never fails.
func ResolveIdentity(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return IdentityFallback
}

// IdentityMiddleware resolves the client identifier once per request and
// stores it in the context for the rate limiter and logs.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), identityKey{}, ResolveIdentity(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity retrieves the resolved client identifier from context.
// Returns the fallback value if the middleware is not present.
func GetIdentity(ctx context.Context) string {
	if id, ok := ctx.Value(identityKey{}).(string); ok {
		return id
	}
	return IdentityFallback
}
