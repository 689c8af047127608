package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultNegativeCacheSize bounds the known-absent set.
	DefaultNegativeCacheSize = 4096
	// DefaultNegativeTTL keeps absence records short-lived so newly
	// created codes become visible quickly.
	DefaultNegativeTTL = time.Minute
)

// NegativeCache records codes recently confirmed absent, absorbing 404
// floods without re-querying storage.
type NegativeCache struct {
	entries *expirable.LRU[string, struct{}]
}

// NewNegativeCache builds a negative cache with the given bound and TTL.
func NewNegativeCache(size int, ttl time.Duration) *NegativeCache {
	if size <= 0 {
		size = DefaultNegativeCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultNegativeTTL
	}
	return &NegativeCache{
		entries: expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

// Contains reports whether the key is known absent.
func (c *NegativeCache) Contains(key string) bool {
	_, ok := c.entries.Get(key)
	return ok
}

// Mark records the key as absent.
func (c *NegativeCache) Mark(key string) {
	c.entries.Add(key, struct{}{})
}

// Clear removes one absence record, e.g. after the code is created.
func (c *NegativeCache) Clear(key string) {
	c.entries.Remove(key)
}

// Purge drops all absence records.
func (c *NegativeCache) Purge() {
	c.entries.Purge()
}
