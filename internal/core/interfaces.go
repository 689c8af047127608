package core

import (
	"context"
	"time"
)

// CacheResult is the outcome of a composite cache lookup.
type CacheResult struct {
	Status CacheStatus
	Link   *ShortLink
}

// CacheStatus discriminates the three lookup outcomes.
type CacheStatus int

const (
	// CacheMiss means the cache has no opinion; consult storage.
	CacheMiss CacheStatus = iota
	// CacheFound carries a link snapshot.
	CacheFound
	// CacheNotFound means the key is known absent; do not consult storage.
	CacheNotFound
)

// BloomConfig sizes the existence filter on (re)build.
type BloomConfig struct {
	Capacity uint
	FPRate   float64
}

// CompositeCache orchestrates the existence filter, object cache and
// negative cache behind one interface. Implementations are safe for
// concurrent use. Atomicity between layers is not required; callers fall
// back to storage on inconsistent answers.
type CompositeCache interface {
	Get(key string) CacheResult
	Insert(key string, link *ShortLink, ttl time.Duration)
	Remove(key string)
	MarkNotFound(key string)
	BloomCheck(key string) bool
	InvalidateAll()
	LoadCache(links map[string]*ShortLink)
	LoadBloom(codes []string)
	Reconfigure(cfg BloomConfig)
	// ReloadAll atomically rebuilds the existence filter from codes and
	// reseeds the object cache with warm, without a window where valid
	// codes read as NotFound.
	ReloadAll(cfg BloomConfig, codes []string, warm map[string]*ShortLink)
}

// LinkStorage is the persistent store for short links. All operations
// validate codes against the charset before issuing SQL.
type LinkStorage interface {
	Get(ctx context.Context, code string) (*ShortLink, error)
	BatchGet(ctx context.Context, codes []string) (map[string]*ShortLink, error)
	BatchCheckCodesExist(ctx context.Context, codes []string) (map[string]struct{}, error)
	LoadAll(ctx context.Context) (map[string]*ShortLink, error)
	LoadAllCodes(ctx context.Context) ([]string, error)
	ListPaginated(ctx context.Context, filter LinkFilter, page, pageSize int) ([]*ShortLink, int64, error)
	Upsert(ctx context.Context, link *ShortLink) error
	Delete(ctx context.Context, code string) error
	Stats(ctx context.Context) (*LinkStats, error)
}

// ClickSink receives batched click-count deltas from the flusher.
type ClickSink interface {
	FlushClicks(ctx context.Context, updates map[string]int64) error
}

// ClickRecorder is the hot-path interface exposed to the redirect handler.
// Increment must never block.
type ClickRecorder interface {
	Increment(code string)
	RecordDetailed(detail ClickDetail)
}
