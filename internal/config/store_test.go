package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/storage"
	"github.com/esap-cc/shortlinker/pkg/password"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	// EnsureDefaults writes admin_token.txt into the working directory.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	b, err := storage.Open(context.Background(), "sqlite",
		"file:"+filepath.Join(dir, "config.db"), storage.DefaultOptions(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	store := NewStore(b, slog.Default())
	require.NoError(t, store.EnsureDefaults(context.Background()))
	return store
}

func TestEnsureDefaultsSeedsSchema(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	items, err := store.GetAll(ctx)
	require.NoError(t, err)

	for _, key := range AllKeys() {
		item, ok := items[key]
		require.True(t, ok, "missing seeded key %s", key)
		def, _ := GetDef(key)
		assert.Equal(t, def.Type, item.Type, key)
		assert.Equal(t, def.IsSensitive, item.IsSensitive, key)
		assert.Equal(t, def.RequiresRestart, item.RequiresRestart, key)
	}
}

func TestEnsureDefaultsIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Set(ctx, KeyDefaultURL, "https://changed.example/")
	require.NoError(t, err)

	require.NoError(t, store.EnsureDefaults(ctx))

	value, err := store.Get(ctx, KeyDefaultURL)
	require.NoError(t, err)
	assert.Equal(t, "https://changed.example/", value, "EnsureDefaults must never overwrite values")
}

func TestAdminTokenBootstrap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stored, err := store.Get(ctx, KeyAdminToken)
	require.NoError(t, err)
	assert.True(t, password.IsHashed(stored), "only the hash may be stored")

	raw, err := os.ReadFile(AdminTokenFile)
	require.NoError(t, err)
	plaintext := string(raw[:len(raw)-1]) // trailing newline

	ok, err := password.Verify(stored, plaintext)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := os.Stat(AdminTokenFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSetRecordsHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.Set(ctx, KeyDefaultURL, "https://new.example/")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	require.NotNil(t, res.OldValue)

	history, err := store.History(ctx, KeyDefaultURL, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "https://new.example/", history[0].NewValue)
}

func TestSetSensitiveMasksHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Set(ctx, KeyHealthToken, "super-secret")
	require.NoError(t, err)

	history, err := store.History(ctx, KeyHealthToken, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, Redacted, history[0].NewValue)
	require.NotNil(t, history[0].OldValue)
	assert.Equal(t, Redacted, *history[0].OldValue)
}

func TestSetUnchangedValueIsNoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	current, err := store.Get(ctx, KeyDefaultURL)
	require.NoError(t, err)

	res, err := store.Set(ctx, KeyDefaultURL, current)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	history, err := store.History(ctx, KeyDefaultURL, 10)
	require.NoError(t, err)
	assert.Empty(t, history, "noop set must not write history")
}

func TestSetRejectsUnknownKeyAndBadValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Set(ctx, "nope.unknown", "x")
	assert.True(t, core.IsNotFound(err))

	_, err = store.Set(ctx, KeyRandomCodeLength, "not-a-number")
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = store.Set(ctx, KeyCORSAllowedOrigins, "{broken")
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Set(ctx, KeyRandomCodeLength, "12")
	require.NoError(t, err)

	_, err = store.Reset(ctx, KeyRandomCodeLength)
	require.NoError(t, err)

	value, err := store.Get(ctx, KeyRandomCodeLength)
	require.NoError(t, err)
	assert.Equal(t, "6", value)
}

func TestRuntimeSnapshotAndReload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	handle := NewHandle(store)
	require.NoError(t, handle.Reload(ctx))

	rt := handle.Current()
	assert.Equal(t, int64(6), rt.GetIntOr(KeyRandomCodeLength, 0))
	assert.True(t, rt.GetBoolOr(KeyEnableTracking, false))

	_, err := store.Set(ctx, KeyRandomCodeLength, "9")
	require.NoError(t, err)

	// Writers don't touch the snapshot; a reload publishes it.
	assert.Equal(t, int64(6), handle.Current().GetIntOr(KeyRandomCodeLength, 0))
	require.NoError(t, handle.Reload(ctx))
	assert.Equal(t, int64(9), handle.Current().GetIntOr(KeyRandomCodeLength, 0))
}

func TestRuntimeTypedGetterFallbacks(t *testing.T) {
	rt := NewRuntime(map[string]string{
		"a.int":  "42",
		"a.bool": "yes",
		"a.bad":  "wat",
	})
	assert.Equal(t, int64(42), rt.GetIntOr("a.int", 0))
	assert.Equal(t, int64(7), rt.GetIntOr("a.bad", 7))
	assert.Equal(t, int64(7), rt.GetIntOr("missing", 7))
	assert.True(t, rt.GetBoolOr("a.bool", false))
	assert.False(t, rt.GetBoolOr("a.bad", false))
	assert.Equal(t, "fallback", rt.GetOr("missing", "fallback"))
}
