// Package cache holds short-lived search responses so repeated queries skip
// the data source entirely. Entries are keyed by the normalized query plus
// the request's limit and category, evicted least-recently-used, and expire
// after a TTL regardless of access.
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is the store abstraction: a process-local implementation today, a
// shared one later without touching handler logic.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Stats() Stats
}

// Stats is a point-in-time view for the verbose health report.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Key builds the canonical cache key for a search request. The query must
// already be normalized so that equivalent requests collide.
func Key(normalizedQuery string, limit int, category string) string {
	return fmt.Sprintf("%s|%d|%s", normalizedQuery, limit, category)
}

// LRU is an expirable least-recently-used cache. The underlying library
// handles both the size cap and the TTL; an expired entry is treated as
// absent even if not yet physically evicted.
type LRU[V any] struct {
	inner  *expirable.LRU[string, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewLRU creates a cache capped at size entries with the given TTL.
func NewLRU[V any](size int, ttl time.Duration) *LRU[V] {
	return &LRU[V]{
		inner: expirable.NewLRU[string, V](size, nil, ttl),
	}
}

func (c *LRU[V]) Get(key string) (V, bool) {
	v, ok := c.inner.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

func (c *LRU[V]) Set(key string, value V) {
	c.inner.Add(key, value)
}

func (c *LRU[V]) Stats() Stats {
	return Stats{
		Entries: c.inner.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
