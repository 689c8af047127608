package server

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/storage"
)

// AnalyticsHandler serves the aggregate click queries. Queries hit the
// rollup tables by default; ?source=raw forces the click log.
type AnalyticsHandler struct {
	backend *storage.Backend
}

// NewAnalyticsHandler wires analytics reads.
func NewAnalyticsHandler(backend *storage.Backend) *AnalyticsHandler {
	return &AnalyticsHandler{backend: backend}
}

// parseQuery extracts the shared analytics parameters. Defaults: last 7
// days, day buckets, limit 10.
func (h *AnalyticsHandler) parseQuery(r *http.Request) (storage.AnalyticsQuery, bool, error) {
	q := r.URL.Query()
	now := time.Now().UTC()

	query := storage.AnalyticsQuery{
		Code:    mux.Vars(r)["code"],
		Start:   now.AddDate(0, 0, -7),
		End:     now,
		GroupBy: q.Get("group_by"),
	}
	if s := q.Get("start_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return query, false, core.NewValidationError("invalid start_date: " + err.Error())
		}
		query.Start = t.UTC()
	}
	if s := q.Get("end_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return query, false, core.NewValidationError("invalid end_date: " + err.Error())
		}
		query.End = t.UTC()
	}
	if !query.End.After(query.Start) {
		return query, false, core.NewValidationError("end_date must be after start_date")
	}
	if s := q.Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			query.Limit = n
		}
	}

	useRollup := q.Get("source") != "raw"
	return query, useRollup, nil
}

// Trends handles GET /analytics/trends.
func (h *AnalyticsHandler) Trends(w http.ResponseWriter, r *http.Request) {
	query, useRollup, err := h.parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	points, err := h.backend.ClickTrends(r.Context(), query, useRollup)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, points)
}

// Top handles GET /analytics/top.
func (h *AnalyticsHandler) Top(w http.ResponseWriter, r *http.Request) {
	query, useRollup, err := h.parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	links, err := h.backend.TopLinks(r.Context(), query, useRollup)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, links)
}

// Referrers handles GET /analytics/referrers.
func (h *AnalyticsHandler) Referrers(w http.ResponseWriter, r *http.Request) {
	query, useRollup, err := h.parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := h.backend.TopReferrers(r.Context(), query, useRollup)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, counts)
}

// Geo handles GET /analytics/geo.
func (h *AnalyticsHandler) Geo(w http.ResponseWriter, r *http.Request) {
	query, useRollup, err := h.parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := h.backend.GeoBreakdown(r.Context(), query, useRollup)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, counts)
}

// Export handles GET /analytics/export: the trend series as CSV.
func (h *AnalyticsHandler) Export(w http.ResponseWriter, r *http.Request) {
	query, useRollup, err := h.parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	points, err := h.backend.ClickTrends(r.Context(), query, useRollup)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="analytics.csv"`)
	cw := csv.NewWriter(w)
	cw.Write([]string{"bucket", "clicks"})
	for _, p := range points {
		cw.Write([]string{p.Bucket, strconv.FormatInt(p.Clicks, 10)})
	}
	cw.Flush()
}

// LinkAnalytics handles GET /link/{code}/analytics: the per-link trend
// plus source and geo breakdowns in one payload.
func (h *AnalyticsHandler) LinkAnalytics(w http.ResponseWriter, r *http.Request) {
	query, useRollup, err := h.parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !core.IsValidCode(query.Code) {
		writeError(w, core.NewValidationError("invalid short code"))
		return
	}

	trends, err := h.backend.ClickTrends(r.Context(), query, useRollup)
	if err != nil {
		writeError(w, err)
		return
	}
	referrers, err := h.backend.TopReferrers(r.Context(), query, useRollup)
	if err != nil {
		writeError(w, err)
		return
	}
	geo, err := h.backend.GeoBreakdown(r.Context(), query, useRollup)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"trends":    trends,
		"referrers": referrers,
		"geo":       geo,
	})
}
