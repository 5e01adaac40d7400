// Package limiter implements the per-client request quotas applied at the
// front of the request pipeline. The algorithm is a fixed window counter:
// the count resets entirely at window boundaries, so short bursts across a
// boundary can briefly exceed the nominal rate. That trade-off is acceptable
// for abuse control on a single instance; callers wanting smoother behavior
// can swap the Store implementation without changing the external contract.
package limiter

import (
	"context"
	"sync"
	"time"
)

// Config is the quota for one route class.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// Result reports the outcome of a single quota check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the number of whole seconds until the window resets,
// rounded up, never less than 1. Only meaningful when Allowed is false.
func (r Result) RetryAfter(now time.Time) int {
	until := r.ResetAt.Sub(now)
	if until <= 0 {
		return 1
	}
	secs := int((until + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store checks and consumes quota for an (identifier, route class) pair.
// Implementations must treat increment-and-compare as atomic per pair.
type Store interface {
	CheckAndConsume(identifier, routeClass string, cfg Config) Result
	Close()
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the process-local Store. Entries are swept periodically
// after a grace period past window expiry to bound memory; the sweep is a
// memory-management detail only and never affects check results.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry

	sweepEvery time.Duration
	grace      time.Duration
	cancel     context.CancelFunc

	now func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithSweepInterval overrides how often expired entries are collected.
func WithSweepInterval(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.sweepEvery = d }
}

// WithGracePeriod overrides how long an expired entry survives before the
// sweep removes it.
func WithGracePeriod(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.grace = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a MemoryStore and starts its sweep loop.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]*windowEntry),
		sweepEvery: time.Minute,
		grace:      10 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.sweepLoop(ctx)

	return s
}

// CheckAndConsume applies the fixed-window check for one request.
// The first call in a window creates the window with count=1. Calls while
// count < MaxRequests increment and allow. Once the cap is reached further
// calls are rejected without incrementing, so the count never overshoots.
func (s *MemoryStore) CheckAndConsume(identifier, routeClass string, cfg Config) Result {
	now := s.now()
	key := identifier + "|" + routeClass

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &windowEntry{count: 1, resetAt: now.Add(cfg.Window)}
		s.entries[key] = e
		return Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests - 1,
			ResetAt:   e.resetAt,
		}
	}

	if e.count < cfg.MaxRequests {
		e.count++
		return Result{
			Allowed:   true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests - e.count,
			ResetAt:   e.resetAt,
		}
	}

	return Result{
		Allowed:   false,
		Limit:     cfg.MaxRequests,
		Remaining: 0,
		ResetAt:   e.resetAt,
	}
}

// Close stops the sweep loop.
func (s *MemoryStore) Close() {
	s.cancel()
}

func (s *MemoryStore) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if now.Sub(e.resetAt) >= s.grace {
			delete(s.entries, key)
		}
	}
}

// Len reports the number of live entries. Used by tests and the verbose
// health report.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
