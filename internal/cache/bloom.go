// Package cache implements the layered read cache guarding storage: a
// rebuildable bloom existence filter (L1), a bounded object cache with
// TTL and idle expiration (L2), and a short-lived negative cache, all
// orchestrated by the composite cache.
package cache

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/esap-cc/shortlinker/internal/core"
)

const (
	// bloomCapacityFloor keeps tiny deployments from degenerate filters.
	bloomCapacityFloor = 1024
	defaultFPRate      = 0.001
)

// BloomFilter is the L1 existence filter. A false answer is definitive
// ("cannot exist"); a true answer means "maybe", and the caller falls
// through to L2 and storage.
type BloomFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	fpRate float64
}

// NewBloomFilter sizes a filter for the expected key count.
func NewBloomFilter(capacity uint, fpRate float64) *BloomFilter {
	if capacity < bloomCapacityFloor {
		capacity = bloomCapacityFloor
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = defaultFPRate
	}
	return &BloomFilter{
		filter: bloom.NewWithEstimates(capacity, fpRate),
		fpRate: fpRate,
	}
}

// Check reports whether key may exist.
func (f *BloomFilter) Check(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(key)
}

// Set adds a key to the filter.
func (f *BloomFilter) Set(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.AddString(key)
}

// BulkSet adds many keys in one lock acquisition; used by reload.
func (f *BloomFilter) BulkSet(keys []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		f.filter.AddString(key)
	}
}

// Rebuild replaces the filter with a fresh one already seeded with keys,
// in one critical section, so readers never observe an empty filter
// between the clear and the bulk load.
func (f *BloomFilter) Rebuild(cfg core.BloomConfig, keys []string) {
	capacity := cfg.Capacity
	if capacity < bloomCapacityFloor {
		capacity = bloomCapacityFloor
	}
	fpRate := cfg.FPRate
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = defaultFPRate
	}
	fresh := bloom.NewWithEstimates(capacity, fpRate)
	for _, key := range keys {
		fresh.AddString(key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = fresh
	f.fpRate = fpRate
}

// Clear atomically replaces the filter with a fresh one sized for the
// given capacity and false-positive target.
func (f *BloomFilter) Clear(cfg core.BloomConfig) {
	capacity := cfg.Capacity
	if capacity < bloomCapacityFloor {
		capacity = bloomCapacityFloor
	}
	fpRate := cfg.FPRate
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = defaultFPRate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = bloom.NewWithEstimates(capacity, fpRate)
	f.fpRate = fpRate
}

// ApproxCount returns the estimated number of keys added, for health
// reporting.
func (f *BloomFilter) ApproxCount() uint32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.ApproximatedSize()
}
