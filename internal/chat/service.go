package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/proxypedia/gateway/internal/telemetry"
)

// degradedMessage is what users see when every provider is exhausted.
// Chat is best-effort: total upstream failure is still a normal reply.
const degradedMessage = "I'm having trouble answering right now. Please try again in a moment."

// maxRetries is the number of additional attempts per provider after the
// first call fails with a retryable error.
const maxRetries = 2

// Outcome is the result of a completion. Degraded means every provider was
// exhausted (or none was configured) and Response carries the fallback text.
type Outcome struct {
	Response string
	Provider string
	Degraded bool
	Usage    Usage
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithSleep overrides the backoff sleep, for tests.
func WithSleep(sleep func(context.Context, time.Duration)) ServiceOption {
	return func(s *Service) { s.sleep = sleep }
}

// Service runs the provider failover state machine.
type Service struct {
	providers []*Client
	model     map[string]string // provider name -> model
	maxTokens int
	temp      float32
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration)
}

// NewService creates the failover service over an ordered provider
// preference list. Providers without keys are skipped at call time.
func NewService(providers []*Client, models map[string]string, maxTokens int, temperature float32, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		providers: providers,
		model:     models,
		maxTokens: maxTokens,
		temp:      temperature,
		logger:    logger,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Complete answers a sanitized user message. It never returns an error:
// upstream failures are absorbed here and exposed only through telemetry.
func (s *Service) Complete(ctx context.Context, message, pageContext string) Outcome {
	messages := buildMessages(message, pageContext)

	configured := 0
	for _, p := range s.providers {
		if !p.Configured() {
			continue
		}
		configured++

		if out, ok := s.tryProvider(ctx, p, messages); ok {
			return out
		}
	}

	if configured == 0 {
		// A deployment mistake, not a runtime fluke.
		s.logger.Error("no chat provider configured, serving degraded response")
	}
	return Outcome{Response: degradedMessage, Degraded: true}
}

// tryProvider calls one provider with retry-with-backoff. It returns
// ok=false when the provider is exhausted or failed permanently, which
// advances the failover to the next provider.
func (s *Service) tryProvider(ctx context.Context, p *Client, messages []Message) (Outcome, bool) {
	req := &CompletionRequest{
		Model:       s.model[p.Name()],
		Messages:    messages,
		MaxTokens:   s.maxTokens,
		Temperature: &s.temp,
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			s.sleep(ctx, backoff)
			if ctx.Err() != nil {
				return Outcome{}, false
			}
		}

		resp, err := p.CreateCompletion(ctx, req)
		if err == nil {
			if content := resp.Content(); content != "" {
				telemetry.ProviderRequests.WithLabelValues(p.Name(), "success").Inc()
				telemetry.ChatTokens.WithLabelValues(p.Name(), "prompt").Add(float64(resp.Usage.PromptTokens))
				telemetry.ChatTokens.WithLabelValues(p.Name(), "completion").Add(float64(resp.Usage.CompletionTokens))
				return Outcome{Response: content, Provider: p.Name(), Usage: resp.Usage}, true
			}
			// An empty choice list is a provider bug; treat as permanent.
			telemetry.ProviderRequests.WithLabelValues(p.Name(), "empty").Inc()
			s.logger.Warn("provider returned empty completion", slog.String("provider", p.Name()))
			return Outcome{}, false
		}

		if Retryable(err) {
			telemetry.ProviderRequests.WithLabelValues(p.Name(), "retryable").Inc()
			s.logger.Warn("retryable provider failure",
				slog.String("provider", p.Name()),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			continue
		}

		telemetry.ProviderRequests.WithLabelValues(p.Name(), "permanent").Inc()
		s.logger.Warn("permanent provider failure, moving to next provider",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		return Outcome{}, false
	}

	telemetry.ProviderRequests.WithLabelValues(p.Name(), "exhausted").Inc()
	return Outcome{}, false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
