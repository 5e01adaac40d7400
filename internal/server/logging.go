package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/proxypedia/gateway/internal/telemetry"
)

// logFieldsKey identifies request-scoped logging fields.
type logFieldsKey struct{}

// errorKindKey carries the error taxonomy kind a handler assigned to the
// request's failure, used for the fingerprint.
type errorKindKey struct{}

// TelemetryMiddleware is the response-telemetry stage: it times the
// request, classifies the outcome from the status code, records metrics
// and emits exactly one structured log line per request, on every exit
// path. Handlers enrich the line through AddLogField/AddError.
func TelemetryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Attach mutable log fields map to context for handlers to enrich
			fields := make(map[string]string)
			kind := new(string)
			ctx := context.WithValue(r.Context(), logFieldsKey{}, fields)
			ctx = context.WithValue(ctx, errorKindKey{}, kind)

			// Wrap response writer to capture status code
			wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			duration := time.Since(start)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			outcome := classifyOutcome(wrapped.statusCode)

			telemetry.RequestDuration.WithLabelValues(route, outcome).Observe(duration.Seconds())

			attrs := []slog.Attr{
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.String("identity", GetIdentity(ctx)),
				slog.Int("status", wrapped.statusCode),
				slog.String("outcome", outcome),
				slog.Duration("duration", duration),
			}

			if errMsg, ok := fields["error"]; ok {
				fp := telemetry.Fingerprint(*kind, errMsg, route)
				telemetry.RequestErrors.WithLabelValues(route, fp).Inc()
				attrs = append(attrs, slog.String("error_fingerprint", fp))
			}
			for k, v := range fields {
				attrs = append(attrs, slog.String(k, v))
			}

			logger.LogAttrs(ctx, slog.LevelInfo, "request completed", attrs...)
		})
	}
}

func classifyOutcome(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "upstream_error"
	case status >= 400:
		return "validation_rejected"
	default:
		return "ok"
	}
}

// statusResponseWriter wraps http.ResponseWriter to capture the status code.
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards Flush to the underlying ResponseWriter if it supports
// http.Flusher, preserving streaming support.
func (rw *statusResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AddLogField attaches a key/value to the request-scoped log fields map so
// TelemetryMiddleware can emit it. Safe to call multiple times. No-op if
// the middleware isn't present.
func AddLogField(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	if fields, ok := ctx.Value(logFieldsKey{}).(map[string]string); ok {
		fields[key] = value
	}
}

// AddError attaches an error and its taxonomy kind to the request-scoped
// fields so the structured request line carries the message and a grouping
// fingerprint. No-op if the middleware isn't present or err is nil.
func AddError(ctx context.Context, kind string, err error) {
	if err == nil {
		return
	}
	AddLogField(ctx, "error", err.Error())
	if k, ok := ctx.Value(errorKindKey{}).(*string); ok {
		*k = kind
	}
}
