package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/proxypedia/gateway/internal/limiter"
	"github.com/proxypedia/gateway/internal/telemetry"
)

// RateLimitMiddleware checks the client's quota for one route class before
// the handler runs. Every response carries the standard X-RateLimit-*
// headers; a rejected request gets a 429 with Retry-After and never
// reaches the handler.
func RateLimitMiddleware(store limiter.Store, routeClass string, cfg limiter.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := store.CheckAndConsume(GetIdentity(r.Context()), routeClass, cfg)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				telemetry.RateLimitRejects.WithLabelValues(routeClass).Inc()
				retryAfter := res.RetryAfter(time.Now())
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":       "rate limit exceeded",
					"retry_after": retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
