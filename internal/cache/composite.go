package cache

import (
	"log/slog"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/metrics"
)

// Composite orchestrates L1 (bloom), L2 (object) and the negative cache
// behind core.CompositeCache. Layers are not updated atomically with
// respect to each other; on any disagreement the answer degrades to Miss
// and the caller consults storage.
type Composite struct {
	l1       *BloomFilter
	l2       *ObjectCache
	negative *NegativeCache
	logger   *slog.Logger
	now      func() time.Time
}

// Config sizes the three layers.
type Config struct {
	BloomCapacity uint
	BloomFPRate   float64
	ObjectSize    int
	ObjectIdleTTL time.Duration
	NegativeSize  int
	NegativeTTL   time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BloomCapacity: bloomCapacityFloor,
		BloomFPRate:   defaultFPRate,
		ObjectSize:    DefaultObjectCacheSize,
		ObjectIdleTTL: DefaultIdleTTL,
		NegativeSize:  DefaultNegativeCacheSize,
		NegativeTTL:   DefaultNegativeTTL,
	}
}

// NewComposite builds the composite cache.
func NewComposite(cfg Config, logger *slog.Logger) (*Composite, error) {
	l2, err := NewObjectCache(cfg.ObjectSize, cfg.ObjectIdleTTL)
	if err != nil {
		return nil, err
	}
	return &Composite{
		l1:       NewBloomFilter(cfg.BloomCapacity, cfg.BloomFPRate),
		l2:       l2,
		negative: NewNegativeCache(cfg.NegativeSize, cfg.NegativeTTL),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Get runs the layered lookup: negative cache, then bloom, then L2.
// Expired links surface as Miss and are marked absent so the next hit
// short-circuits.
func (c *Composite) Get(key string) core.CacheResult {
	if c.negative.Contains(key) {
		metrics.CacheLookupTotal.WithLabelValues("negative", "hit").Inc()
		return core.CacheResult{Status: core.CacheNotFound}
	}
	if !c.l1.Check(key) {
		metrics.CacheLookupTotal.WithLabelValues("l1", "reject").Inc()
		return core.CacheResult{Status: core.CacheNotFound}
	}
	link, ok := c.l2.Get(key)
	if !ok {
		metrics.CacheLookupTotal.WithLabelValues("l2", "miss").Inc()
		return core.CacheResult{Status: core.CacheMiss}
	}
	if link.Expired(c.now()) {
		c.l2.Remove(key)
		c.negative.Mark(key)
		metrics.CacheLookupTotal.WithLabelValues("l2", "expired").Inc()
		return core.CacheResult{Status: core.CacheMiss}
	}
	metrics.CacheLookupTotal.WithLabelValues("l2", "hit").Inc()
	return core.CacheResult{Status: core.CacheFound, Link: link}
}

// Insert publishes a snapshot to L1 and L2 and clears any stale absence
// record.
func (c *Composite) Insert(key string, link *core.ShortLink, ttl time.Duration) {
	c.l1.Set(key)
	c.l2.Insert(key, link, ttl)
	c.negative.Clear(key)
}

// Remove evicts from L2 and clears the negative record. The bloom filter
// cannot unlearn a key; it sheds deleted codes on the next rebuild.
func (c *Composite) Remove(key string) {
	c.l2.Remove(key)
	c.negative.Clear(key)
}

// MarkNotFound records a confirmed-absent code.
func (c *Composite) MarkNotFound(key string) {
	c.negative.Mark(key)
}

// BloomCheck exposes the raw L1 answer for diagnostics.
func (c *Composite) BloomCheck(key string) bool {
	return c.l1.Check(key)
}

// InvalidateAll drops L2 and the negative cache. The bloom filter is
// left as-is; use Reconfigure+LoadBloom for a full rebuild.
func (c *Composite) InvalidateAll() {
	c.l2.Purge()
	c.negative.Purge()
}

// LoadCache bulk-seeds both layers, used by reload warming.
func (c *Composite) LoadCache(links map[string]*core.ShortLink) {
	keys := make([]string, 0, len(links))
	for key := range links {
		keys = append(keys, key)
	}
	c.l1.BulkSet(keys)
	for key, link := range links {
		c.l2.Insert(key, link, 0)
		c.negative.Clear(key)
	}
	c.logger.Debug("Cache loaded", "links", len(links))
}

// LoadBloom bulk-seeds only the existence filter.
func (c *Composite) LoadBloom(codes []string) {
	c.l1.BulkSet(codes)
}

// ReloadAll rebuilds the whole cache for a reload: the bloom filter is
// swapped in already seeded, then L2 and the negative cache are reset
// and warmed. Valid codes never read as NotFound during the swap; at
// worst a lookup degrades to Miss while L2 repopulates.
func (c *Composite) ReloadAll(cfg core.BloomConfig, codes []string, warm map[string]*core.ShortLink) {
	c.l1.Rebuild(cfg, codes)
	c.l2.Purge()
	c.negative.Purge()
	for key, link := range warm {
		c.l2.Insert(key, link, 0)
	}
	c.logger.Info("Cache rebuilt",
		"codes", len(codes),
		"warmed", len(warm),
	)
}

// Reconfigure rebuilds L1 with new capacity and false-positive target.
// The caller is expected to LoadBloom afterwards; until then lookups for
// existing codes degrade to NotFound, which reload avoids by swapping
// only after a successful bulk load.
func (c *Composite) Reconfigure(cfg core.BloomConfig) {
	c.l1.Clear(cfg)
	c.logger.Info("Existence filter reconfigured",
		"capacity", cfg.Capacity,
		"fp_rate", cfg.FPRate,
	)
}

var _ core.CompositeCache = (*Composite)(nil)
