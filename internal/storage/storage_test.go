package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esap-cc/shortlinker/internal/core"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	b, err := Open(context.Background(), "sqlite", dsn, DefaultOptions(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func testLink(code string) *core.ShortLink {
	return &core.ShortLink{
		Code:      code,
		Target:    "https://example.com/" + code,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestUpsertAndGet(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	link := testLink("abc")
	require.NoError(t, b.Upsert(ctx, link))

	got, err := b.Get(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.Code)
	assert.Equal(t, link.Target, got.Target)
	assert.Nil(t, got.ExpiresAt)
	assert.Zero(t, got.Click)
}

func TestGetMissingReturnsNil(t *testing.T) {
	b := newTestBackend(t)
	got, err := b.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetRejectsInvalidCode(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Get(context.Background(), "bad code!")
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestUpsertPreservesCreatedAtAndClicks(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	original := testLink("dup")
	require.NoError(t, b.Upsert(ctx, original))
	require.NoError(t, b.FlushClicks(ctx, map[string]int64{"dup": 7}))

	overwrite := testLink("dup")
	overwrite.Target = "https://other.example/"
	overwrite.CreatedAt = original.CreatedAt.Add(time.Hour)
	require.NoError(t, b.Upsert(ctx, overwrite))

	got, err := b.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/", got.Target)
	assert.Equal(t, original.CreatedAt, got.CreatedAt, "created_at must survive overwrite")
	assert.Equal(t, int64(7), got.Click, "click_count must survive overwrite")
}

func TestDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Upsert(ctx, testLink("gone")))
	require.NoError(t, b.Delete(ctx, "gone"))

	err := b.Delete(ctx, "gone")
	assert.True(t, core.IsNotFound(err))
}

func TestFlushClicksExactAccumulation(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Upsert(ctx, testLink("k")))
	require.NoError(t, b.FlushClicks(ctx, map[string]int64{"k": 500}))
	require.NoError(t, b.FlushClicks(ctx, map[string]int64{"k": 3}))

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(503), got.Click)
}

func TestFlushClicksRejectsInvalidCode(t *testing.T) {
	b := newTestBackend(t)
	err := b.FlushClicks(context.Background(), map[string]int64{"ok": 1, "bad;drop": 2})
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestBatchGetAndExistence(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for _, code := range []string{"a", "b", "c"} {
		require.NoError(t, b.Upsert(ctx, testLink(code)))
	}

	links, err := b.BatchGet(ctx, []string{"a", "c", "zz"})
	require.NoError(t, err)
	assert.Len(t, links, 2)
	assert.Contains(t, links, "a")
	assert.Contains(t, links, "c")

	existing, err := b.BatchCheckCodesExist(ctx, []string{"a", "zz"})
	require.NoError(t, err)
	assert.Contains(t, existing, "a")
	assert.NotContains(t, existing, "zz")
}

func TestListPaginatedWithFilter(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	active := testLink("active")
	active.ExpiresAt = &future
	expired := testLink("expired")
	expired.ExpiresAt = &past
	forever := testLink("forever")

	for _, l := range []*core.ShortLink{active, expired, forever} {
		require.NoError(t, b.Upsert(ctx, l))
	}

	rows, total, err := b.ListPaginated(ctx, core.LinkFilter{OnlyActive: true}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, r := range rows {
		assert.NotEqual(t, "expired", r.Code)
	}

	rows, total, err = b.ListPaginated(ctx, core.LinkFilter{OnlyExpired: true}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	assert.Equal(t, "expired", rows[0].Code)

	_, total, err = b.ListPaginated(ctx, core.LinkFilter{Search: "ver"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestStats(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	expired := testLink("old")
	expired.ExpiresAt = &past

	require.NoError(t, b.Upsert(ctx, testLink("a")))
	require.NoError(t, b.Upsert(ctx, expired))
	require.NoError(t, b.FlushClicks(ctx, map[string]int64{"a": 10, "old": 5}))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalLinks)
	assert.Equal(t, int64(15), stats.TotalClicks)
	assert.Equal(t, int64(1), stats.ActiveLinks)
}

func TestStreamCursorCoversAllRowsOnce(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	codes := []string{"a1", "a2", "b1", "b2", "c1", "c2", "d1"}
	for _, code := range codes {
		require.NoError(t, b.Upsert(ctx, testLink(code)))
	}

	out := make(chan CursorPage, 8)
	done := make(chan error, 1)
	go func() { done <- b.StreamCursor(ctx, core.LinkFilter{}, 3, out) }()

	seen := make(map[string]int)
	var prev string
	for page := range out {
		for _, link := range page.Links {
			seen[link.Code]++
			assert.Greater(t, link.Code, prev, "rows must be in strict code order")
			prev = link.Code
		}
	}
	require.NoError(t, <-done)

	assert.Len(t, seen, len(codes))
	for code, n := range seen {
		assert.Equal(t, 1, n, "code %s emitted more than once", code)
	}
}

func TestCountCacheInvalidatedOnMutation(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Upsert(ctx, testLink("one")))
	_, total, err := b.ListPaginated(ctx, core.LinkFilter{}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)

	require.NoError(t, b.Upsert(ctx, testLink("two")))
	_, total, err = b.ListPaginated(ctx, core.LinkFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(assert.AnError) == false)

	transient := []string{
		"dial tcp 127.0.0.1:5432: connection refused",
		"database is locked",
		"deadlock detected",
		"i/o timeout",
	}
	for _, msg := range transient {
		assert.True(t, IsTransient(errString(msg)), msg)
	}

	permanent := []string{
		"UNIQUE constraint failed: short_links.code",
		"duplicate key value violates unique constraint",
	}
	for _, msg := range permanent {
		assert.False(t, IsTransient(errString(msg)), msg)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
