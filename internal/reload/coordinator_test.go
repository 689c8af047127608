package reload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esap-cc/shortlinker/internal/cache"
	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/storage"
)

func newFixture(t *testing.T) (*Coordinator, *storage.Backend, *cache.Composite, *config.Handle) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	b, err := storage.Open(context.Background(), "sqlite",
		"file:"+filepath.Join(dir, "reload.db"), storage.DefaultOptions(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	store := config.NewStore(b, slog.Default())
	require.NoError(t, store.EnsureDefaults(context.Background()))
	handle := config.NewHandle(store)
	require.NoError(t, handle.Reload(context.Background()))

	c, err := cache.NewComposite(cache.DefaultConfig(), slog.Default())
	require.NoError(t, err)

	return NewCoordinator(handle, c, b, slog.Default()), b, c, handle
}

func seedLink(t *testing.T, b *storage.Backend, code string) {
	t.Helper()
	require.NoError(t, b.Upsert(context.Background(), &core.ShortLink{
		Code:      code,
		Target:    "https://example.com/" + code,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestDataReloadWarmsCache(t *testing.T) {
	coord, b, c, _ := newFixture(t)
	ctx := context.Background()

	seedLink(t, b, "warm1")
	seedLink(t, b, "warm2")

	result, err := coord.Reload(ctx, TargetData)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Codes)
	assert.Equal(t, 2, result.Warmed)

	res := c.Get("warm1")
	assert.Equal(t, core.CacheFound, res.Status)

	// Unknown keys now rejected by the rebuilt bloom filter.
	res = c.Get("unknown-key")
	assert.Equal(t, core.CacheNotFound, res.Status)
}

func TestConfigReloadPublishesSnapshot(t *testing.T) {
	coord, b, _, handle := newFixture(t)
	ctx := context.Background()

	store := config.NewStore(b, slog.Default())
	_, err := store.Set(ctx, config.KeyDefaultURL, "https://new.example/")
	require.NoError(t, err)

	// Not visible until reload.
	assert.NotEqual(t, "https://new.example/",
		handle.Current().GetOr(config.KeyDefaultURL, ""))

	_, err = coord.Reload(ctx, TargetConfig)
	require.NoError(t, err)
	assert.Equal(t, "https://new.example/",
		handle.Current().GetOr(config.KeyDefaultURL, ""))
}

func TestConcurrentReloadIsBusy(t *testing.T) {
	coord, _, _, _ := newFixture(t)

	// Hold the reload lock and verify a second request bounces.
	coord.mu.Lock()
	var wg sync.WaitGroup
	wg.Add(1)
	var reloadErr error
	go func() {
		defer wg.Done()
		_, reloadErr = coord.Reload(context.Background(), TargetData)
	}()
	wg.Wait()
	coord.mu.Unlock()

	require.Error(t, reloadErr)
	assert.Equal(t, core.KindBusy, core.KindOf(reloadErr))
}

func TestParseTarget(t *testing.T) {
	assert.Equal(t, TargetData, ParseTarget("data"))
	assert.Equal(t, TargetConfig, ParseTarget("config"))
	assert.Equal(t, TargetAll, ParseTarget("all"))
	assert.Equal(t, TargetAll, ParseTarget(""))
	assert.Equal(t, TargetAll, ParseTarget("bogus"))
}
