package chat

import (
	"strings"
	"sync/atomic"
)

// KeyPool hands out API keys round-robin so load spreads across keys and a
// single revoked key does not fully block a provider.
type KeyPool struct {
	keys []string
	next atomic.Uint64
}

// NewKeyPool parses a comma-separated key list. Empty entries are dropped.
func NewKeyPool(commaSeparated string) *KeyPool {
	var keys []string
	for _, k := range strings.Split(commaSeparated, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return &KeyPool{keys: keys}
}

// Next returns the next key in rotation, or "" when the pool is empty.
func (p *KeyPool) Next() string {
	if len(p.keys) == 0 {
		return ""
	}
	n := p.next.Add(1) - 1
	return p.keys[n%uint64(len(p.keys))]
}

// Empty reports whether no keys are configured.
func (p *KeyPool) Empty() bool {
	return len(p.keys) == 0
}

// Size reports how many keys are in rotation.
func (p *KeyPool) Size() int {
	return len(p.keys)
}
