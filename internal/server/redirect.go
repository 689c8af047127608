package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/esap-cc/shortlinker/internal/cache"
	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/metrics"
)

// redirectBudget bounds cache lookup plus storage fallback.
const redirectBudget = time.Second

// RedirectHandler serves the hot path: GET|HEAD /{code} resolves through
// the composite cache, falls back to storage on miss, issues a 307 and
// records the click without blocking the response.
type RedirectHandler struct {
	cache   core.CompositeCache
	storage core.LinkStorage
	clicks  core.ClickRecorder
	configs *config.Handle
	logger  *slog.Logger
	now     func() time.Time
}

// NewRedirectHandler wires the hot path.
func NewRedirectHandler(c core.CompositeCache, st core.LinkStorage, clicks core.ClickRecorder, configs *config.Handle, logger *slog.Logger) *RedirectHandler {
	return &RedirectHandler{
		cache:   c,
		storage: st,
		clicks:  clicks,
		configs: configs,
		logger:  logger,
		now:     time.Now,
	}
}

// ServeRoot handles the empty path: 307 to the configured default URL.
func (h *RedirectHandler) ServeRoot(w http.ResponseWriter, r *http.Request) {
	defaultURL := h.configs.Current().GetOr(config.KeyDefaultURL, "https://example.com/")
	w.Header().Set("Location", defaultURL)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusTemporaryRedirect)
}

// ServeHTTP resolves one short code.
func (h *RedirectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	if code == "" {
		h.ServeRoot(w, r)
		return
	}
	// Invalid charset: immediate 404, no cache or counter mutation.
	if !core.IsValidCode(code) {
		metrics.RedirectTotal.WithLabelValues("invalid").Inc()
		h.notFound(w)
		return
	}

	switch res := h.cache.Get(code); res.Status {
	case core.CacheNotFound:
		metrics.RedirectTotal.WithLabelValues("not_found").Inc()
		h.notFound(w)
	case core.CacheFound:
		metrics.RedirectTotal.WithLabelValues("hit").Inc()
		h.recordClick(code, r)
		h.redirect(w, res.Link)
	default:
		h.resolveFromStorage(w, r, code)
	}
}

// resolveFromStorage is the miss path, bounded by the redirect budget.
func (h *RedirectHandler) resolveFromStorage(w http.ResponseWriter, r *http.Request, code string) {
	ctx, cancel := context.WithTimeout(r.Context(), redirectBudget)
	defer cancel()

	link, err := h.storage.Get(ctx, code)
	if err != nil {
		metrics.RedirectTotal.WithLabelValues("error").Inc()
		h.logger.Error("Storage lookup failed during redirect", "code", code, "error", err)
		h.internalError(w)
		return
	}
	if link == nil {
		metrics.RedirectTotal.WithLabelValues("miss").Inc()
		h.cache.MarkNotFound(code)
		h.notFound(w)
		return
	}

	now := h.now().UTC()
	ttl, ok := link.CacheTTL(h.cacheTTL(), now)
	if !ok {
		metrics.RedirectTotal.WithLabelValues("expired").Inc()
		h.cache.MarkNotFound(code)
		h.notFound(w)
		return
	}

	h.cache.Insert(code, link, ttl)
	metrics.RedirectTotal.WithLabelValues("miss").Inc()
	h.recordClick(code, r)
	h.redirect(w, link)
}

func (h *RedirectHandler) cacheTTL() time.Duration {
	return h.configs.Current().GetDurationSecondsOr(config.KeyCacheDefaultTTL, cache.DefaultTTL)
}

// recordClick bumps the in-memory counter and, when detailed analytics
// are enabled, enqueues a detail event. Both operations are
// non-blocking; the redirect response never waits on them.
func (h *RedirectHandler) recordClick(code string, r *http.Request) {
	rt := h.configs.Current()
	if !rt.GetBoolOr(config.KeyEnableTracking, true) {
		return
	}
	h.clicks.Increment(code)

	if !rt.GetBoolOr(config.KeyDetailedLogging, false) {
		return
	}
	detail := core.ClickDetail{
		Code:      code,
		Timestamp: h.now().UTC(),
		Referrer:  r.Header.Get("Referer"),
		UserAgent: r.Header.Get("User-Agent"),
		UTMSource: r.URL.Query().Get("utm_source"),
	}
	if rt.GetBoolOr(config.KeyIPLogging, true) {
		detail.IP = clientIP(r)
	}
	h.clicks.RecordDetailed(detail)
}

func (h *RedirectHandler) redirect(w http.ResponseWriter, link *core.ShortLink) {
	w.Header().Set("Location", link.Target)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusTemporaryRedirect)
}

func (h *RedirectHandler) notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// Cacheable 404 absorbs crawler floods at the edge.
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("Not Found"))
}

func (h *RedirectHandler) internalError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte("Internal Server Error"))
}
