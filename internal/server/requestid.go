package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RequestIDKey is the context key for request IDs
type contextKey string

const RequestIDKey contextKey = "request_id"

// RequestIDMiddleware resolves a correlation id for each request and sets
// it as the X-Request-ID response header. An inbound traceparent trace-id
// or reverse-proxy ray id is reused when present so callers chaining
// requests can correlate them; otherwise a fresh id is generated.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := inboundTraceID(r)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// inboundTraceID extracts a reusable correlation id from the request:
// the trace-id field of a well-formed traceparent header, else the
// reverse proxy's ray id.
func inboundTraceID(r *http.Request) string {
	// traceparent: version-traceid-spanid-flags
	if tp := r.Header.Get("traceparent"); tp != "" {
		parts := strings.Split(tp, "-")
		if len(parts) == 4 && len(parts[1]) == 32 && parts[1] != strings.Repeat("0", 32) {
			return parts[1]
		}
	}
	if ray := r.Header.Get("CF-Ray"); ray != "" {
		return ray
	}
	return ""
}

// GetRequestID retrieves the request ID from context.
// Returns an empty string if no request ID is set.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
