package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esap-cc/shortlinker/internal/cache"
	"github.com/esap-cc/shortlinker/internal/click"
	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/reload"
	"github.com/esap-cc/shortlinker/internal/service"
	"github.com/esap-cc/shortlinker/internal/storage"
	"github.com/esap-cc/shortlinker/pkg/password"
)

type fixture struct {
	router  http.Handler
	backend *storage.Backend
	cache   *cache.Composite
	buffer  *click.Buffer
	flusher *click.Flusher
	links   *service.LinkService
	token   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	log := slog.Default()
	backend, err := storage.Open(context.Background(), "sqlite",
		"file:"+filepath.Join(dir, "server.db"), storage.DefaultOptions(), log)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	store := config.NewStore(backend, log)
	require.NoError(t, store.EnsureDefaults(context.Background()))

	// Deterministic admin token for tests.
	token := "test-admin-token"
	hash, err := password.Hash(token)
	require.NoError(t, err)
	_, err = store.Set(context.Background(), config.KeyAdminToken, hash)
	require.NoError(t, err)

	configs := config.NewHandle(store)
	require.NoError(t, configs.Reload(context.Background()))

	composite, err := cache.NewComposite(cache.DefaultConfig(), log)
	require.NoError(t, err)

	buffer := click.NewBuffer(64)
	flusher := click.NewFlusher(buffer, backend, storage.NewRollupWriter(backend), backend,
		click.FlusherConfig{}, log)

	coordinator := reload.NewCoordinator(configs, composite, backend, log)
	links := service.NewLinkService(backend, composite, log)
	health := service.NewHealthService(backend, "test")

	router := NewRouter(RouterDeps{
		Redirect:  NewRedirectHandler(composite, backend, buffer, configs, log),
		Admin:     NewAdminHandler(links, backend, coordinator, log),
		Analytics: NewAnalyticsHandler(backend),
		Config:    NewConfigHandler(store),
		Health:    NewHealthHandler(health, configs),
		Configs:   configs,
		Logger:    log,
	})

	return &fixture{
		router:  router,
		backend: backend,
		cache:   composite,
		buffer:  buffer,
		flusher: flusher,
		links:   links,
		token:   token,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndRedirect(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/v1/link",
		`{"code":"abc","target":"https://example.com/"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/abc", "", false)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "https://example.com/", rec.Header().Get("Location"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	rec = f.do(t, http.MethodGet, "/nope", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
}

func TestRedirectInvalidCharsetIs404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/bad%20code", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRootRedirectsToDefaultURL(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Location"))
}

func TestRedirectCountsClicks(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/v1/link",
		`{"code":"k","target":"https://example.com/"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	for i := 0; i < 500; i++ {
		rec := f.do(t, http.MethodGet, "/k", "", false)
		require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	}
	f.flusher.Flush(context.Background())

	link, err := f.backend.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(500), link.Click)
}

func TestExpiredLinkIs404(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Second)
	require.NoError(t, f.backend.Upsert(ctx, &core.ShortLink{
		Code:      "e",
		Target:    "https://e.example/",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		ExpiresAt: &past,
	}))

	rec := f.do(t, http.MethodGet, "/e", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConflictAndForce(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/v1/link",
		`{"code":"dup","target":"https://a.example/"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/v1/link",
		`{"code":"dup","target":"https://b.example/"}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/v1/link",
		`{"code":"dup","target":"https://b.example/","force":true}`, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRequiresAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/v1/link", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/link", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec2 := httptest.NewRecorder()
	f.router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)

	rec = f.do(t, http.MethodGet, "/admin/v1/link", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEnvelopeShape(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/v1/link?page=1&page_size=10", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Code       int             `json:"code"`
		Data       json.RawMessage `json:"data"`
		Pagination *Pagination     `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Zero(t, envelope.Code)
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 1, envelope.Pagination.Page)

	rec = f.do(t, http.MethodGet, "/admin/v1/link/missing", "", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var errEnvelope Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errEnvelope))
	assert.NotZero(t, errEnvelope.Code)
	assert.NotEmpty(t, errEnvelope.Message)
}

func TestUpdateAndDeleteLink(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/v1/link",
		`{"code":"u","target":"https://a.example/"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPut, "/admin/v1/link/u",
		`{"target":"https://b.example/"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/admin/v1/link/u", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://b.example/")

	rec = f.do(t, http.MethodDelete, "/admin/v1/link/u", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/admin/v1/link/u", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportExportEndpoints(t *testing.T) {
	f := newFixture(t)

	csv := "code,target,created_at,expires_at,password,click_count\nx,https://a.example/\ny,https://b.example/\n"
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/link/import?mode=skip", strings.NewReader(csv))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"success":2`)

	rec = f.do(t, http.MethodGet, "/admin/v1/link/export", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "code,target,"))
	assert.Contains(t, body, "x,https://a.example/")
	assert.Contains(t, body, "y,https://b.example/")
}

func TestConfigEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/v1/config", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), config.KeyDefaultURL)

	rec = f.do(t, http.MethodPut, "/admin/v1/config/"+config.KeyDefaultURL,
		`{"value":"https://new.example/"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Not yet visible to the redirect path.
	rec = f.do(t, http.MethodGet, "/", "", false)
	assert.NotEqual(t, "https://new.example/", rec.Header().Get("Location"))

	// A config reload publishes the new snapshot.
	rec = f.do(t, http.MethodPost, "/admin/v1/reload", `{"target":"config"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/", "", false)
	assert.Equal(t, "https://new.example/", rec.Header().Get("Location"))

	// Sensitive values come back masked.
	rec = f.do(t, http.MethodGet, "/admin/v1/config/"+config.KeyAdminToken, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), config.Redacted)

	rec = f.do(t, http.MethodGet, "/admin/v1/config/"+config.KeyDefaultURL+"/history", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://new.example/")
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/live", "", false)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/ready", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"storage_backend":"sqlite"`)
}

func TestPidfileLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pid")

	require.NoError(t, WritePidfile(path))
	pid, ok := ReadPidfile(path)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)

	// A live peer blocks a second start.
	assert.Error(t, WritePidfile(path))

	RemovePidfile(path)
	_, ok = ReadPidfile(path)
	assert.False(t, ok)
}
