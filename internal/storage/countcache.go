package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
)

// countCache memoizes COUNT(*) results for paginated listings, keyed by
// a fingerprint of the filter. Counts drift for at most the TTL, which
// the admin UI tolerates in exchange for skipping a full count per page.
type countCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]countEntry
}

type countEntry struct {
	total   int64
	expires time.Time
}

func newCountCache(ttl time.Duration) *countCache {
	return &countCache{
		ttl: ttl,
		m:   make(map[string]countEntry),
	}
}

func (c *countCache) get(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || time.Now().After(e.expires) {
		delete(c.m, key)
		return 0, false
	}
	return e.total, true
}

func (c *countCache) set(key string, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Opportunistic sweep keeps the map from accumulating dead filters.
	now := time.Now()
	for k, e := range c.m {
		if now.After(e.expires) {
			delete(c.m, k)
		}
	}
	c.m[key] = countEntry{total: total, expires: now.Add(c.ttl)}
}

// invalidate drops all cached counts; called after any link mutation.
func (c *countCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string]countEntry)
}

// filterFingerprint produces a stable cache key for a LinkFilter.
func filterFingerprint(f core.LinkFilter) string {
	var after, before string
	if f.CreatedAfter != nil {
		after = f.CreatedAfter.UTC().Format(time.RFC3339Nano)
	}
	if f.CreatedBefore != nil {
		before = f.CreatedBefore.UTC().Format(time.RFC3339Nano)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%t|%t",
		f.Search, after, before, f.OnlyExpired, f.OnlyActive)))
	return hex.EncodeToString(sum[:8])
}
