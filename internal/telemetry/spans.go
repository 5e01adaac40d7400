package telemetry

import (
	"context"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanRecord is the retained view of one finished span.
type SpanRecord struct {
	TraceID  string        `json:"trace_id"`
	SpanID   string        `json:"span_id"`
	Name     string        `json:"name"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

// SpanBuffer keeps the most recent finished spans in a fixed-size ring.
// It implements sdktrace.SpanProcessor so it can be registered directly on
// the tracer provider. Oldest records are overwritten once the ring is full.
type SpanBuffer struct {
	mu   sync.Mutex
	ring []SpanRecord
	next int
	full bool
}

var _ sdktrace.SpanProcessor = (*SpanBuffer)(nil)

// NewSpanBuffer creates a ring holding at most size spans.
func NewSpanBuffer(size int) *SpanBuffer {
	return &SpanBuffer{ring: make([]SpanRecord, size)}
}

func (b *SpanBuffer) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (b *SpanBuffer) OnEnd(s sdktrace.ReadOnlySpan) {
	sc := s.SpanContext()
	rec := SpanRecord{
		TraceID:  sc.TraceID().String(),
		SpanID:   sc.SpanID().String(),
		Name:     s.Name(),
		Start:    s.StartTime(),
		Duration: s.EndTime().Sub(s.StartTime()),
	}

	b.mu.Lock()
	b.ring[b.next] = rec
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
	b.mu.Unlock()
}

func (b *SpanBuffer) Shutdown(context.Context) error   { return nil }
func (b *SpanBuffer) ForceFlush(context.Context) error { return nil }

// Snapshot returns buffered spans oldest-first.
func (b *SpanBuffer) Snapshot() []SpanRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]SpanRecord, b.next)
		copy(out, b.ring[:b.next])
		return out
	}
	out := make([]SpanRecord, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}

// Len reports how many spans are currently buffered.
func (b *SpanBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.ring)
	}
	return b.next
}
