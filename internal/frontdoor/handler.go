// Package frontdoor implements the public API routes. Every route runs
// behind the shared middleware pipeline (identity, rate limiting,
// telemetry); handlers own input sanitization and the upstream call.
package frontdoor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/proxypedia/gateway/internal/cache"
	"github.com/proxypedia/gateway/internal/chat"
	"github.com/proxypedia/gateway/internal/config"
	"github.com/proxypedia/gateway/internal/datasource"
	"github.com/proxypedia/gateway/internal/limiter"
	"github.com/proxypedia/gateway/internal/sanitize"
	"github.com/proxypedia/gateway/internal/server"
	"github.com/proxypedia/gateway/internal/telemetry"
)

const (
	maxSearchResults = 100
	defaultResults   = 20
	maxBodyBytes     = 64 << 10

	searchCacheControl = "public, s-maxage=60, stale-while-revalidate=300"
	noStore            = "no-store"
)

// SearchStore is the data source surface the handlers need.
type SearchStore interface {
	Search(ctx context.Context, normalized string, limit int, category string) (datasource.SearchResult, error)
	IncrementViews(ctx context.Context, questionID string) error
	Ping(ctx context.Context) error
}

// Completer answers chat messages. It never fails; degraded outcomes carry
// fallback text.
type Completer interface {
	Complete(ctx context.Context, message, pageContext string) chat.Outcome
}

// SearchResponse is the search route's response body and cache value.
type SearchResponse struct {
	Query    string                `json:"query"`
	Results  []datasource.Question `json:"results"`
	Count    int                   `json:"count"`
	Fallback bool                  `json:"fallback"`
	Cached   bool                  `json:"cached"`
}

// Handler serves the API routes.
type Handler struct {
	logger      *slog.Logger
	data        SearchStore
	chat        Completer
	searchCache cache.Cache[SearchResponse]
	searchRules sanitize.Rules
	chatRules   sanitize.Rules
	spans       *telemetry.SpanBuffer
	started     time.Time
}

// New creates the route handler set.
func New(logger *slog.Logger, data SearchStore, completer Completer, searchCache cache.Cache[SearchResponse], sc config.SanitizeConfig, spans *telemetry.SpanBuffer) *Handler {
	return &Handler{
		logger:      logger,
		data:        data,
		chat:        completer,
		searchCache: searchCache,
		searchRules: sanitize.Rules{
			Field:          "query",
			MinLen:         sc.SearchMinLen,
			MaxLen:         sc.SearchMaxLen,
			Overlength:     sanitize.Truncate,
			NormalizeQuery: true,
			MaxTerms:       sc.SearchMaxTerms,
		},
		chatRules: sanitize.Rules{
			Field:      "message",
			MinLen:     1,
			MaxLen:     sc.ChatMaxLen,
			Overlength: sanitize.Reject,
			DenyMarkup: true,
		},
		spans:   spans,
		started: time.Now(),
	}
}

// Mount registers the routes with their per-class rate limits and cache
// policies.
func (h *Handler) Mount(r chi.Router, store limiter.Store, limits config.LimitsConfig) {
	search := toLimiterConfig(limits.Search)
	chatCfg := toLimiterConfig(limits.Chat)
	def := toLimiterConfig(limits.Default)

	r.With(server.RateLimitMiddleware(store, "search", search), server.CacheControl(searchCacheControl)).
		Get("/api/search", h.Search)
	r.With(server.RateLimitMiddleware(store, "chat", chatCfg), server.CacheControl(noStore)).
		Post("/api/chat", h.Chat)
	r.With(server.RateLimitMiddleware(store, "default", def), server.CacheControl(noStore)).
		Post("/api/view", h.View)
	r.With(server.RateLimitMiddleware(store, "default", def), server.CacheControl(noStore)).
		Post("/api/monitoring/event", h.MonitoringEvent)
	r.With(server.RateLimitMiddleware(store, "default", def), server.CacheControl(noStore)).
		Get("/api/health", h.Health)
}

func toLimiterConfig(lc config.LimitConfig) limiter.Config {
	return limiter.Config{MaxRequests: lc.Requests, Window: lc.Window}
}

// Search handles GET /api/search?q=...&limit=...&category=...
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := defaultResults
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}
	category := sanitize.NormalizeQuery(q.Get("category"), 1)

	normalized, err := sanitize.Sanitize(q.Get("q"), h.searchRules)
	if err != nil {
		// Unsearchable queries are an empty success, not an error: the
		// search box should never yell at the user for typing one letter.
		writeJSON(w, http.StatusOK, SearchResponse{Query: "", Results: []datasource.Question{}})
		return
	}

	key := cache.Key(normalized, limit, category)
	if cached, ok := h.searchCache.Get(key); ok {
		telemetry.CacheLookups.WithLabelValues("hit").Inc()
		telemetry.SearchResults.WithLabelValues("cache").Observe(float64(cached.Count))
		cached.Cached = true
		writeJSON(w, http.StatusOK, cached)
		return
	}
	telemetry.CacheLookups.WithLabelValues("miss").Inc()

	res, err := h.data.Search(ctx, normalized, limit, category)
	if err != nil {
		server.AddError(ctx, "upstream_exhausted", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":   "search is temporarily unavailable",
			"query":   normalized,
			"results": []datasource.Question{},
		})
		return
	}

	strategy := "primary"
	if res.Fallback {
		strategy = "fallback"
	}
	telemetry.SearchResults.WithLabelValues(strategy).Observe(float64(len(res.Items)))

	resp := SearchResponse{
		Query:    normalized,
		Results:  res.Items,
		Count:    len(res.Items),
		Fallback: res.Fallback,
	}
	h.searchCache.Set(key, resp)
	server.AddLogField(ctx, "results", strconv.Itoa(len(res.Items)))
	writeJSON(w, http.StatusOK, resp)
}

type chatRequest struct {
	Message     string `json:"message"`
	SessionID   string `json:"sessionId,omitempty"`
	PageContext string `json:"pageContext,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// Chat handles POST /api/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message, err := sanitize.Sanitize(req.Message, h.chatRules)
	if err != nil {
		var rej *sanitize.RejectionError
		if errors.As(err, &rej) {
			server.AddError(ctx, "validation", err)
			writeError(w, http.StatusBadRequest, rej.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid message")
		return
	}

	// Page context is advisory: bound it, never reject on it.
	pageContext, _ := sanitize.Sanitize(req.PageContext, sanitize.Rules{
		Field: "pageContext", MaxLen: 200, Overlength: sanitize.Truncate,
	})

	out := h.chat.Complete(ctx, message, pageContext)
	if out.Degraded {
		server.AddLogField(ctx, "degraded", "true")
	}
	server.AddLogField(ctx, "provider", out.Provider)

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  out.Response,
		SessionID: req.SessionID,
		Provider:  out.Provider,
		Degraded:  out.Degraded,
	})
}

type viewRequest struct {
	QuestionID string `json:"questionId"`
}

// View handles POST /api/view. The write is best-effort: a data source
// failure is absorbed, counted and logged, never surfaced as an error.
func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req viewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.QuestionID == "" || len(req.QuestionID) > 100 {
		writeError(w, http.StatusBadRequest, "questionId is required")
		return
	}

	if err := h.data.IncrementViews(ctx, req.QuestionID); err != nil {
		server.AddError(ctx, "upstream_transient", err)
		writeJSON(w, http.StatusOK, map[string]any{"recorded": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recorded": true})
}

// monitoringEventTypes is the accepted client telemetry envelope types.
var monitoringEventTypes = map[string]bool{
	"page_view":   true,
	"web_vital":   true,
	"error":       true,
	"interaction": true,
}

type monitoringEvent struct {
	Type     string          `json:"type"`
	Path     string          `json:"path"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// MonitoringEvent handles POST /api/monitoring/event.
func (h *Handler) MonitoringEvent(w http.ResponseWriter, r *http.Request) {
	var ev monitoringEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !monitoringEventTypes[ev.Type] {
		writeError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	if len(ev.Path) > 500 || len(ev.Metadata) > 2048 {
		writeError(w, http.StatusBadRequest, "event too large")
		return
	}

	telemetry.MonitoringEvents.WithLabelValues(ev.Type).Inc()
	h.logger.Debug("monitoring event",
		slog.String("type", ev.Type),
		slog.String("path", ev.Path),
	)
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

// Health handles GET /api/health. The basic probe never touches upstreams;
// verbose mode pings the data source and reports internal state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}

	if v := r.URL.Query().Get("verbose"); v == "1" || v == "true" {
		deps := map[string]any{}
		if err := h.data.Ping(r.Context()); err != nil {
			body["status"] = "degraded"
			deps["datasource"] = map[string]any{"ok": false, "error": err.Error()}
			server.AddError(r.Context(), "upstream_transient", err)
		} else {
			deps["datasource"] = map[string]any{"ok": true}
		}
		body["dependencies"] = deps
		body["cache"] = h.searchCache.Stats()
		if h.spans != nil {
			body["buffered_spans"] = h.spans.Len()
		}
	}

	writeJSON(w, http.StatusOK, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
