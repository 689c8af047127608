package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/esap-cc/shortlinker/internal/config"
)

// RouterDeps collects the handlers mounted by NewRouter.
type RouterDeps struct {
	Redirect  *RedirectHandler
	Admin     *AdminHandler
	Analytics *AnalyticsHandler
	Config    *ConfigHandler
	Health    *HealthHandler
	Configs   *config.Handle
	Logger    *slog.Logger
}

// NewRouter assembles the public and admin routes. The admin prefix comes
// from the config snapshot taken at startup; changing it requires a
// restart. Health routes are fixed paths; routes.health_prefix is not read.
func NewRouter(deps RouterDeps) *mux.Router {
	rt := deps.Configs.Current()
	adminPrefix := rt.GetOr(config.KeyAdminPrefix, "/admin/v1")
	adminEnabled := rt.GetBoolOr(config.KeyEnableAdminPanel, true)

	r := mux.NewRouter()

	common := []Middleware{
		RequestIDMiddleware(),
		RecoveryMiddleware(deps.Logger),
		LoggingMiddleware(deps.Logger),
	}

	// Health endpoints stay outside the admin auth gate.
	r.Handle("/live", Chain(http.HandlerFunc(deps.Health.Live), common...)).Methods(http.MethodGet)
	r.Handle("/ready", Chain(http.HandlerFunc(deps.Health.Ready), common...)).Methods(http.MethodGet)
	r.Handle("/health", Chain(http.HandlerFunc(deps.Health.Detailed), common...)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if adminEnabled {
		admin := r.PathPrefix(adminPrefix).Subrouter()
		auth := append(append([]Middleware{}, common...), AuthMiddleware(deps.Configs, deps.Logger))
		wrap := func(h http.HandlerFunc) http.Handler { return Chain(h, auth...) }

		admin.Handle("/link", wrap(deps.Admin.ListLinks)).Methods(http.MethodGet)
		admin.Handle("/link", wrap(deps.Admin.CreateLink)).Methods(http.MethodPost)
		// Fixed paths register before the {code} wildcard.
		admin.Handle("/link/stats", wrap(deps.Admin.LinkStats)).Methods(http.MethodGet)
		admin.Handle("/link/batch-delete", wrap(deps.Admin.BatchDeleteLinks)).Methods(http.MethodPost)
		admin.Handle("/link/import", wrap(deps.Admin.ImportLinks)).Methods(http.MethodPost)
		admin.Handle("/link/export", wrap(deps.Admin.ExportLinks)).Methods(http.MethodGet)
		admin.Handle("/link/{code}/analytics", wrap(deps.Analytics.LinkAnalytics)).Methods(http.MethodGet)
		admin.Handle("/link/{code}", wrap(deps.Admin.GetLink)).Methods(http.MethodGet)
		admin.Handle("/link/{code}", wrap(deps.Admin.UpdateLink)).Methods(http.MethodPut)
		admin.Handle("/link/{code}", wrap(deps.Admin.DeleteLink)).Methods(http.MethodDelete)

		admin.Handle("/analytics/trends", wrap(deps.Analytics.Trends)).Methods(http.MethodGet)
		admin.Handle("/analytics/top", wrap(deps.Analytics.Top)).Methods(http.MethodGet)
		admin.Handle("/analytics/referrers", wrap(deps.Analytics.Referrers)).Methods(http.MethodGet)
		admin.Handle("/analytics/geo", wrap(deps.Analytics.Geo)).Methods(http.MethodGet)
		admin.Handle("/analytics/export", wrap(deps.Analytics.Export)).Methods(http.MethodGet)

		admin.Handle("/config", wrap(deps.Config.List)).Methods(http.MethodGet)
		admin.Handle("/config/{key}/history", wrap(deps.Config.History)).Methods(http.MethodGet)
		admin.Handle("/config/{key}/reset", wrap(deps.Config.Reset)).Methods(http.MethodPost)
		admin.Handle("/config/{key}", wrap(deps.Config.Get)).Methods(http.MethodGet)
		admin.Handle("/config/{key}", wrap(deps.Config.Set)).Methods(http.MethodPut)

		admin.Handle("/reload", wrap(deps.Admin.Reload)).Methods(http.MethodPost)
	}

	// The redirect hot path catches everything else. A deliberately thin
	// middleware stack: no logging allocation per redirect.
	recovery := RecoveryMiddleware(deps.Logger)
	r.Handle("/", recovery(http.HandlerFunc(deps.Redirect.ServeRoot))).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/{code}", recovery(deps.Redirect)).Methods(http.MethodGet, http.MethodHead)

	return r
}
