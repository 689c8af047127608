package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esap-cc/shortlinker/internal/cache"
	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/storage"
	"github.com/esap-cc/shortlinker/pkg/password"
)

func newTestService(t *testing.T) (*LinkService, *storage.Backend, *cache.Composite) {
	t.Helper()
	b, err := storage.Open(context.Background(), "sqlite",
		"file:"+filepath.Join(t.TempDir(), "svc.db"), storage.DefaultOptions(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	c, err := cache.NewComposite(cache.DefaultConfig(), slog.Default())
	require.NoError(t, err)

	return NewLinkService(b, c, slog.Default()), b, c
}

func TestCreateAndGet(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()

	link, err := svc.Create(ctx, CreateRequest{Code: "abc", Target: "https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "abc", link.Code)

	got, err := svc.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", got.Target)

	// The cache was populated by the write path.
	res := c.Get("abc")
	assert.Equal(t, core.CacheFound, res.Status)
}

func TestCreateRejectsBadURL(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, target := range []string{"javascript:alert(1)", "notaurl", "ftp://x/"} {
		_, err := svc.Create(ctx, CreateRequest{Code: "x", Target: target})
		assert.Equal(t, core.KindValidation, core.KindOf(err), target)
	}
}

func TestCreateConflictAndForce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateRequest{Code: "dup", Target: "https://a.example/"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateRequest{Code: "dup", Target: "https://b.example/"})
	assert.Equal(t, core.KindConflict, core.KindOf(err))

	forced, err := svc.Create(ctx, CreateRequest{Code: "dup", Target: "https://b.example/", Force: true})
	require.NoError(t, err)
	assert.Equal(t, "https://b.example/", forced.Target)
	assert.Equal(t, first.CreatedAt, forced.CreatedAt, "created_at preserved on overwrite")
}

func TestCreateGeneratesCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	link, err := svc.Create(ctx, CreateRequest{Target: "https://example.com/"})
	require.NoError(t, err)
	assert.Len(t, link.Code, 6)
	assert.True(t, core.IsValidCode(link.Code))
	assert.NotContains(t, link.Code, "_")
	assert.NotContains(t, link.Code, "-")
}

func TestCreateHashesPassword(t *testing.T) {
	svc, b, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Code: "p", Target: "https://example.com/", Password: "hunter2"})
	require.NoError(t, err)

	stored, err := b.Get(ctx, "p")
	require.NoError(t, err)
	require.True(t, password.IsHashed(stored.Password))
	ok, err := password.Verify(stored.Password, "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateWithRelativeExpiry(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	link, err := svc.Create(ctx, CreateRequest{Code: "e", Target: "https://example.com/", ExpiresAt: "1d2h30m"})
	require.NoError(t, err)
	require.NotNil(t, link.ExpiresAt)
	want := time.Now().UTC().Add(24*time.Hour + 2*time.Hour + 30*time.Minute)
	assert.WithinDuration(t, want, *link.ExpiresAt, 5*time.Second)

	_, err = svc.Create(ctx, CreateRequest{Code: "e2", Target: "https://example.com/", ExpiresAt: "garbage"})
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestUpdateMergeSemantics(t *testing.T) {
	svc, b, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{
		Code: "u", Target: "https://example.com/", Password: "old", ExpiresAt: "1d",
	})
	require.NoError(t, err)

	// Update only the target: expiry and password stay.
	newTarget := "https://changed.example/"
	updated, err := svc.Update(ctx, "u", UpdateRequest{Target: &newTarget})
	require.NoError(t, err)
	assert.Equal(t, newTarget, updated.Target)
	assert.NotNil(t, updated.ExpiresAt)
	assert.NotEmpty(t, updated.Password)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	// Empty password removes it.
	empty := ""
	updated, err = svc.Update(ctx, "u", UpdateRequest{Password: &empty})
	require.NoError(t, err)
	assert.Empty(t, updated.Password)

	stored, err := b.Get(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, stored.Password)
}

func TestUpdateMissingIs404(t *testing.T) {
	svc, _, _ := newTestService(t)
	target := "https://x.example/"
	_, err := svc.Update(context.Background(), "missing", UpdateRequest{Target: &target})
	assert.True(t, core.IsNotFound(err))
}

func TestDeleteEvictsCache(t *testing.T) {
	svc, _, c := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Code: "d", Target: "https://example.com/"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "d"))

	res := c.Get("d")
	assert.Equal(t, core.CacheNotFound, res.Status)

	assert.True(t, core.IsNotFound(svc.Delete(ctx, "d")))
}

func TestImportSkipVsOverwrite(t *testing.T) {
	ctx := context.Background()

	// mode=skip: existing x keeps A, new y lands.
	svc, b, _ := newTestService(t)
	_, err := svc.Create(ctx, CreateRequest{Code: "x", Target: "https://a.example/"})
	require.NoError(t, err)

	rows := []ImportRow{
		{Code: "x", Target: "https://b.example/", RowNum: 2},
		{Code: "y", Target: "https://c.example/", RowNum: 3},
	}
	result, err := svc.Import(ctx, rows, core.ImportSkip)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)

	x, err := b.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/", x.Target)

	// mode=overwrite: x takes B.
	result, err = svc.Import(ctx, rows, core.ImportOverwrite)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Success)

	x, err = b.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "https://b.example/", x.Target)
}

func TestImportErrorModeAndRowErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Code: "taken", Target: "https://a.example/"})
	require.NoError(t, err)

	rows := []ImportRow{
		{Code: "taken", Target: "https://b.example/", RowNum: 2},
		{Code: "", Target: "https://c.example/", RowNum: 3},
		{Code: "badurl", Target: "javascript:x", RowNum: 4},
		{Code: "fine", Target: "https://d.example/", RowNum: 5},
	}
	result, err := svc.Import(ctx, rows, core.ImportError)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 3, result.Failed)
	require.Len(t, result.Errors, 3)

	byRow := make(map[int]string)
	for _, e := range result.Errors {
		byRow[e.RowNum] = e.Error
	}
	assert.Contains(t, byRow[2], "already exists")
	assert.Contains(t, byRow[3], "empty code")
	assert.Contains(t, byRow[4], "scheme")
}

func TestImportKeepsPrehashedPasswords(t *testing.T) {
	svc, b, _ := newTestService(t)
	ctx := context.Background()

	hash, err := password.Hash("pw")
	require.NoError(t, err)

	rows := []ImportRow{
		{Code: "hashed", Target: "https://a.example/", Password: hash, RowNum: 2},
		{Code: "plain", Target: "https://b.example/", Password: "pw", RowNum: 3},
	}
	result, err := svc.Import(ctx, rows, core.ImportSkip)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Success)

	stored, err := b.Get(ctx, "hashed")
	require.NoError(t, err)
	assert.Equal(t, hash, stored.Password)

	stored, err = b.Get(ctx, "plain")
	require.NoError(t, err)
	assert.True(t, password.IsHashed(stored.Password))
	assert.NotEqual(t, hash, stored.Password)
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, b, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Code: "r1", Target: "https://a.example/"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{Code: "r2", Target: "https://b.example/", Password: "pw", ExpiresAt: "30d"})
	require.NoError(t, err)

	var buf strings.Builder
	n, err := svc.ExportCSV(ctx, b, core.LinkFilter{}, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Import into a fresh store.
	svc2, b2, _ := newTestService(t)
	rows, rowErrs, err := ParseCSV(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, rows, 2)

	result, err := svc2.Import(ctx, rows, core.ImportError)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Success)

	orig, err := b.LoadAll(ctx)
	require.NoError(t, err)
	copied, err := b2.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, copied, len(orig))
	for code, o := range orig {
		c := copied[code]
		require.NotNil(t, c, code)
		assert.Equal(t, o.Target, c.Target)
		assert.Equal(t, o.Password, c.Password, "hashes survive the round trip")
	}
}

func TestParseCSVErrors(t *testing.T) {
	_, _, err := ParseCSV(strings.NewReader(""))
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, _, err = ParseCSV(strings.NewReader("wrong,header\n"))
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	rows, rowErrs, err := ParseCSV(strings.NewReader(
		"code,target,created_at,expires_at,password,click_count\nok,https://a.example/\nonlyone\n"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	require.Len(t, rowErrs, 1)
	assert.Equal(t, 3, rowErrs[0].RowNum, "header counts as line 1")
}
