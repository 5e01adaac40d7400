package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/proxypedia/gateway/internal/limiter"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// =============================================================================
// Identity resolution
// =============================================================================

func TestResolveIdentity_PriorityOrder(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name: "connecting ip wins",
			headers: map[string]string{
				"CF-Connecting-IP": "1.1.1.1",
				"X-Real-IP":        "2.2.2.2",
				"X-Forwarded-For":  "3.3.3.3, 4.4.4.4",
			},
			want: "1.1.1.1",
		},
		{
			name: "real ip before forwarded-for",
			headers: map[string]string{
				"X-Real-IP":       "2.2.2.2",
				"X-Forwarded-For": "3.3.3.3",
			},
			want: "2.2.2.2",
		},
		{
			name: "first forwarded-for entry, trimmed",
			headers: map[string]string{
				"X-Forwarded-For": " 3.3.3.3 , 4.4.4.4",
			},
			want: "3.3.3.3",
		},
		{
			name:    "fallback for direct connections",
			headers: nil,
			want:    IdentityFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ResolveIdentity(req); got != tt.want {
				t.Errorf("ResolveIdentity() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdentityMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := GetIdentity(r.Context()); got != "9.9.9.9" {
			t.Errorf("GetIdentity = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Real-IP", "9.9.9.9")
	rec := httptest.NewRecorder()
	IdentityMiddleware(handler).ServeHTTP(rec, req)
}

func TestGetIdentity_NotSet(t *testing.T) {
	if got := GetIdentity(context.Background()); got != IdentityFallback {
		t.Errorf("GetIdentity = %q, want fallback", got)
	}
}

// =============================================================================
// Request IDs
// =============================================================================

func TestRequestIDMiddleware_GeneratesID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	RequestIDMiddleware(okHandler()).ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header to be set")
	}
}

func TestRequestIDMiddleware_ReusesTraceparent(t *testing.T) {
	traceID := "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	RequestIDMiddleware(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != traceID {
		t.Errorf("X-Request-ID = %q, want inbound trace id", got)
	}
}

func TestRequestIDMiddleware_IgnoresMalformedTraceparent(t *testing.T) {
	for _, tp := range []string{
		"garbage",
		"00-short-00f067aa0ba902b7-01",
		"00-00000000000000000000000000000000-00f067aa0ba902b7-01",
	} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("traceparent", tp)
		rec := httptest.NewRecorder()
		RequestIDMiddleware(okHandler()).ServeHTTP(rec, req)

		got := rec.Header().Get("X-Request-ID")
		if got == "" || strings.Contains(tp, got) {
			t.Errorf("traceparent %q: X-Request-ID = %q, want fresh id", tp, got)
		}
	}
}

func TestRequestIDMiddleware_ReusesRayID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("CF-Ray", "8abc123def456-SJC")
	rec := httptest.NewRecorder()
	RequestIDMiddleware(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "8abc123def456-SJC" {
		t.Errorf("X-Request-ID = %q, want ray id", got)
	}
}

// =============================================================================
// CORS
// =============================================================================

func TestCORSMiddleware(t *testing.T) {
	origins := []string{"https://proxypedia.example", "https://www.proxypedia.example"}
	wrapped := CORSMiddleware(origins)(okHandler())

	t.Run("allow-listed origin reflected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://www.proxypedia.example")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://www.proxypedia.example" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})

	t.Run("unlisted origin gets first allow-listed value", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://proxypedia.example" {
			t.Errorf("Allow-Origin = %q, want first allow-listed origin", got)
		}
	})

	t.Run("same-origin requests pass untouched", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("same-origin response should carry no CORS headers")
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/", nil)
		req.Header.Set("Origin", "https://proxypedia.example")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("preflight status = %d, want 204", rec.Code)
		}
	})
}

// =============================================================================
// Hardening and cache headers
// =============================================================================

func TestSecurityHeadersMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(okHandler()).ServeHTTP(rec, req)

	checkHeader(t, rec, "X-Content-Type-Options", "nosniff")
	checkHeader(t, rec, "X-Frame-Options", "DENY")
	checkHeader(t, rec, "Referrer-Policy", "strict-origin-when-cross-origin")
}

func TestCacheControl(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	CacheControl("no-store")(okHandler()).ServeHTTP(rec, req)
	checkHeader(t, rec, "Cache-Control", "no-store")
}

// =============================================================================
// Rate limit middleware
// =============================================================================

func TestRateLimitMiddleware(t *testing.T) {
	store := limiter.NewMemoryStore(limiter.WithSweepInterval(time.Hour))
	t.Cleanup(store.Close)
	cfg := limiter.Config{MaxRequests: 2, Window: time.Minute}

	handlerCalls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalls++
		w.WriteHeader(http.StatusOK)
	})
	wrapped := IdentityMiddleware(RateLimitMiddleware(store, "chat", cfg)(handler))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/chat", nil)
		req.Header.Set("X-Real-IP", "7.7.7.7")
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		return rec
	}

	rec := do()
	if rec.Code != http.StatusOK {
		t.Fatalf("first call status = %d", rec.Code)
	}
	checkHeader(t, rec, "X-RateLimit-Limit", "2")
	checkHeader(t, rec, "X-RateLimit-Remaining", "1")

	do()
	rec = do()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third call status = %d, want 429", rec.Code)
	}
	checkHeader(t, rec, "X-RateLimit-Remaining", "0")
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
	if !strings.Contains(rec.Body.String(), "rate limit exceeded") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if handlerCalls != 2 {
		t.Errorf("handler ran %d times, want 2", handlerCalls)
	}
}

// =============================================================================
// Telemetry middleware
// =============================================================================

func TestTelemetryMiddleware_LogsOneLinePerRequest(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	wrapped := TelemetryMiddleware(logger)(okHandler())

	req := httptest.NewRequest("GET", "/api/search", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	output := buf.String()
	if got := strings.Count(output, "request completed"); got != 1 {
		t.Errorf("completion lines = %d, want exactly 1\n%s", got, output)
	}
	if !strings.Contains(output, "/api/search") {
		t.Error("expected route in log output")
	}
	if !strings.Contains(output, "outcome=ok") {
		t.Error("expected outcome in log output")
	}
}

func TestTelemetryMiddleware_RunsOnEveryExitPath(t *testing.T) {
	tests := []struct {
		status  int
		outcome string
	}{
		{http.StatusOK, "ok"},
		{http.StatusBadRequest, "validation_rejected"},
		{http.StatusTooManyRequests, "rate_limited"},
		{http.StatusServiceUnavailable, "upstream_error"},
	}
	for _, tt := range tests {
		var buf strings.Builder
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
		wrapped := TelemetryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		req := httptest.NewRequest("GET", "/", nil)
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if !strings.Contains(buf.String(), "outcome="+tt.outcome) {
			t.Errorf("status %d: expected outcome %q in: %s", tt.status, tt.outcome, buf.String())
		}
	}
}

func TestAddError_EmitsFingerprint(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	wrapped := TelemetryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddError(r.Context(), "upstream_exhausted", errors.New("search failed: both strategies errored"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	req := httptest.NewRequest("GET", "/api/search", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	output := buf.String()
	if !strings.Contains(output, "error_fingerprint=") {
		t.Errorf("expected fingerprint in log output: %s", output)
	}
	if !strings.Contains(output, "search failed") {
		t.Errorf("expected error message in log output: %s", output)
	}
}

func TestAddLogField_NoMiddleware(t *testing.T) {
	// Must not panic without the middleware present.
	AddLogField(context.Background(), "key", "value")
	AddError(context.Background(), "kind", errors.New("x"))
}

func TestTimeoutMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("expected context deadline")
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	TimeoutMiddleware(30*time.Second)(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func checkHeader(t *testing.T, rec *httptest.ResponseRecorder, name, expected string) {
	t.Helper()
	actual := rec.Header().Get(name)
	if actual != expected {
		t.Errorf("Header %s = %q, want %q", name, actual, expected)
	}
}
