package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/esap-cc/shortlinker/internal/core"
)

const (
	// DefaultObjectCacheSize bounds the L2 entry count.
	DefaultObjectCacheSize = 10_000
	// DefaultTTL is the time-to-live from insertion.
	DefaultTTL = 15 * time.Minute
	// DefaultIdleTTL is the time-to-idle since last access.
	DefaultIdleTTL = 5 * time.Minute
)

type objectEntry struct {
	link       *core.ShortLink
	expiresAt  time.Time
	lastAccess time.Time
}

// ObjectCache is the L2 cache: a bounded LRU of link snapshots with dual
// expiration — TTL from insertion and idle timeout since last access.
// Eviction under pressure is LRU via the underlying cache.
type ObjectCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *objectEntry]
	idleTTL time.Duration
	now     func() time.Time
}

// NewObjectCache builds an L2 cache. size <= 0 uses the default bound;
// idleTTL <= 0 disables idle expiration.
func NewObjectCache(size int, idleTTL time.Duration) (*ObjectCache, error) {
	if size <= 0 {
		size = DefaultObjectCacheSize
	}
	entries, err := lru.New[string, *objectEntry](size)
	if err != nil {
		return nil, err
	}
	return &ObjectCache{
		entries: entries,
		idleTTL: idleTTL,
		now:     time.Now,
	}, nil
}

// Get returns the cached link, expiring stale and idle entries on the way.
func (c *ObjectCache) Get(key string) (*core.ShortLink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.After(entry.expiresAt) {
		c.entries.Remove(key)
		return nil, false
	}
	if c.idleTTL > 0 && now.Sub(entry.lastAccess) > c.idleTTL {
		c.entries.Remove(key)
		return nil, false
	}
	entry.lastAccess = now
	return entry.link, true
}

// Insert stores a snapshot with the given TTL.
func (c *ObjectCache) Insert(key string, link *core.ShortLink, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries.Add(key, &objectEntry{
		link:       link,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	})
}

// Remove evicts a key.
func (c *ObjectCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(key)
}

// Purge drops everything.
func (c *ObjectCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Len reports the current entry count.
func (c *ObjectCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
