package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esap-cc/shortlinker/internal/core"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func newTestComposite(t *testing.T) *Composite {
	t.Helper()
	c, err := NewComposite(DefaultConfig(), testLogger())
	require.NoError(t, err)
	return c
}

func link(code string) *core.ShortLink {
	return &core.ShortLink{
		Code:      code,
		Target:    "https://example.com/" + code,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCompositeGetAfterInsert(t *testing.T) {
	c := newTestComposite(t)
	c.Insert("abc", link("abc"), time.Minute)

	res := c.Get("abc")
	require.Equal(t, core.CacheFound, res.Status)
	assert.Equal(t, "abc", res.Link.Code)
	assert.Equal(t, "https://example.com/abc", res.Link.Target)
}

func TestCompositeUnknownKeyRejectedByBloom(t *testing.T) {
	c := newTestComposite(t)
	c.Insert("known", link("known"), time.Minute)

	res := c.Get("never-seen")
	assert.Equal(t, core.CacheNotFound, res.Status)
}

func TestCompositeBloomHitObjectMissIsMiss(t *testing.T) {
	c := newTestComposite(t)
	// Seed only the bloom filter: "exists but no cached value".
	c.LoadBloom([]string{"warm"})

	res := c.Get("warm")
	assert.Equal(t, core.CacheMiss, res.Status)
}

func TestCompositeNegativeCacheShortCircuits(t *testing.T) {
	c := newTestComposite(t)
	c.LoadBloom([]string{"ghost"})
	c.MarkNotFound("ghost")

	res := c.Get("ghost")
	assert.Equal(t, core.CacheNotFound, res.Status)
}

func TestCompositeInsertClearsNegative(t *testing.T) {
	c := newTestComposite(t)
	c.MarkNotFound("x")
	c.Insert("x", link("x"), time.Minute)

	res := c.Get("x")
	assert.Equal(t, core.CacheFound, res.Status)
}

func TestCompositeExpiredLinkReturnsMissAndMarksAbsent(t *testing.T) {
	c := newTestComposite(t)
	expired := link("old")
	past := time.Now().UTC().Add(-time.Hour)
	expired.ExpiresAt = &past
	c.Insert("old", expired, time.Minute)

	res := c.Get("old")
	assert.Equal(t, core.CacheMiss, res.Status)

	// Second lookup hits the negative cache.
	res = c.Get("old")
	assert.Equal(t, core.CacheNotFound, res.Status)
}

func TestCompositeRemove(t *testing.T) {
	c := newTestComposite(t)
	c.Insert("gone", link("gone"), time.Minute)
	c.Remove("gone")

	// Bloom still says maybe, L2 says miss.
	res := c.Get("gone")
	assert.Equal(t, core.CacheMiss, res.Status)
}

func TestCompositeReconfigureAndReload(t *testing.T) {
	c := newTestComposite(t)
	c.Insert("keep", link("keep"), time.Minute)

	c.Reconfigure(core.BloomConfig{Capacity: 2048, FPRate: 0.001})
	c.InvalidateAll()
	c.LoadCache(map[string]*core.ShortLink{"keep": link("keep")})

	res := c.Get("keep")
	require.Equal(t, core.CacheFound, res.Status)
}

func TestCompositeReloadAllSwapsAtomically(t *testing.T) {
	c := newTestComposite(t)
	c.Insert("old", link("old"), time.Minute)
	c.MarkNotFound("fresh")

	c.ReloadAll(core.BloomConfig{Capacity: 2048, FPRate: 0.001},
		[]string{"fresh", "cold"},
		map[string]*core.ShortLink{"fresh": link("fresh")})

	// Warmed entry is served, bloom-only entry degrades to Miss.
	assert.Equal(t, core.CacheFound, c.Get("fresh").Status)
	assert.Equal(t, core.CacheMiss, c.Get("cold").Status)
	// Codes absent from the rebuilt filter are rejected, and old
	// negative entries are gone.
	assert.Equal(t, core.CacheNotFound, c.Get("old").Status)
	assert.NotEqual(t, core.CacheNotFound, c.Get("fresh").Status)
}

func TestCompositeConcurrentAccess(t *testing.T) {
	c := newTestComposite(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d-%d", n, j%10)
				c.Insert(key, link(key), time.Minute)
				c.Get(key)
				if j%7 == 0 {
					c.Remove(key)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestObjectCacheTTLExpiry(t *testing.T) {
	oc, err := NewObjectCache(16, 0)
	require.NoError(t, err)

	base := time.Now()
	oc.now = func() time.Time { return base }
	oc.Insert("a", link("a"), time.Minute)

	_, ok := oc.Get("a")
	assert.True(t, ok)

	oc.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok = oc.Get("a")
	assert.False(t, ok, "entry must expire after its TTL")
}

func TestObjectCacheIdleExpiry(t *testing.T) {
	oc, err := NewObjectCache(16, 30*time.Second)
	require.NoError(t, err)

	base := time.Now()
	oc.now = func() time.Time { return base }
	oc.Insert("a", link("a"), time.Hour)

	// Accessed within the idle window: stays.
	oc.now = func() time.Time { return base.Add(20 * time.Second) }
	_, ok := oc.Get("a")
	require.True(t, ok)

	// Untouched past the idle window: evicted.
	oc.now = func() time.Time { return base.Add(60 * time.Second) }
	_, ok = oc.Get("a")
	assert.False(t, ok)
}

func TestObjectCacheBounded(t *testing.T) {
	oc, err := NewObjectCache(4, 0)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k%d", i)
		oc.Insert(key, link(key), time.Minute)
	}
	assert.LessOrEqual(t, oc.Len(), 4)
}

func TestNegativeCacheTTL(t *testing.T) {
	nc := NewNegativeCache(16, 50*time.Millisecond)
	nc.Mark("gone")
	assert.True(t, nc.Contains("gone"))

	time.Sleep(80 * time.Millisecond)
	assert.False(t, nc.Contains("gone"), "absence record must expire")
}

func TestNullCache(t *testing.T) {
	n := NewNull()
	n.Insert("a", link("a"), time.Minute)
	assert.Equal(t, core.CacheMiss, n.Get("a").Status)
	assert.True(t, n.BloomCheck("a"))
}

func TestBloomFilterClearResizes(t *testing.T) {
	f := NewBloomFilter(1024, 0.001)
	f.BulkSet([]string{"a", "b", "c"})
	require.True(t, f.Check("a"))

	f.Clear(core.BloomConfig{Capacity: 4096, FPRate: 0.001})
	assert.False(t, f.Check("a"), "clear must drop previous keys")
}
