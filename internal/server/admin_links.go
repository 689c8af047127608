package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/reload"
	"github.com/esap-cc/shortlinker/internal/service"
)

// maxImportBody bounds uploaded import payloads.
const maxImportBody = 64 << 20

// AdminHandler serves the link and reload endpoints under the admin
// prefix; analytics and config routes have their own handlers.
type AdminHandler struct {
	links    *service.LinkService
	streamer service.ExportStreamer
	reloader *reload.Coordinator
	logger   *slog.Logger
}

// NewAdminHandler wires the admin surface.
func NewAdminHandler(links *service.LinkService, streamer service.ExportStreamer, reloader *reload.Coordinator, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		links:    links,
		streamer: streamer,
		reloader: reloader,
		logger:   logger,
	}
}

// linkResponse is the wire shape of one link; password hashes are never
// exposed, only their presence.
type linkResponse struct {
	Code        string     `json:"code"`
	Target      string     `json:"target"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	HasPassword bool       `json:"has_password"`
	Click       int64      `json:"click_count"`
}

func toLinkResponse(link *core.ShortLink) linkResponse {
	return linkResponse{
		Code:        link.Code,
		Target:      link.Target,
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
		HasPassword: link.Password != "",
		Click:       link.Click,
	}
}

// ListLinks handles GET /link with filtering and pagination.
func (h *AdminHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	pageSize := queryInt(q.Get("page_size"), 20)

	filter, err := parseLinkFilter(q.Get("search"), q.Get("created_after"), q.Get("created_before"),
		q.Get("only_expired") == "true", q.Get("only_active") == "true")
	if err != nil {
		writeError(w, err)
		return
	}

	links, total, err := h.links.List(r.Context(), filter, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]linkResponse, 0, len(links))
	for _, link := range links {
		out = append(out, toLinkResponse(link))
	}
	writePage(w, out, NewPagination(page, pageSize, total))
}

// CreateLink handles POST /link.
func (h *AdminHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	link, err := h.links.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.reloadDataAsync()

	status := http.StatusCreated
	if req.Force {
		status = http.StatusOK
	}
	writeData(w, status, toLinkResponse(link))
}

// GetLink handles GET /link/{code}.
func (h *AdminHandler) GetLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.Get(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, toLinkResponse(link))
}

// UpdateLink handles PUT /link/{code}.
func (h *AdminHandler) UpdateLink(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	link, err := h.links.Update(r.Context(), mux.Vars(r)["code"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, toLinkResponse(link))
}

// DeleteLink handles DELETE /link/{code}.
func (h *AdminHandler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	if err := h.links.Delete(r.Context(), mux.Vars(r)["code"]); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// BatchDeleteLinks handles POST /link/batch-delete.
func (h *AdminHandler) BatchDeleteLinks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Codes []string `json:"codes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.NewValidationError("invalid JSON body: "+err.Error()))
		return
	}
	deleted, failed := h.links.BatchDelete(r.Context(), req.Codes)
	writeData(w, http.StatusOK, map[string]any{
		"deleted": deleted,
		"failed":  failed,
	})
}

// LinkStats handles GET /link/stats.
func (h *AdminHandler) LinkStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.links.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// ImportLinks handles POST /link/import. The body is the CSV itself or
// a multipart form with a "file" part.
func (h *AdminHandler) ImportLinks(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)
	mode := core.ParseImportMode(r.URL.Query().Get("mode"))

	var body io.Reader = r.Body
	if mt := r.Header.Get("Content-Type"); len(mt) >= 19 && mt[:19] == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, core.NewValidationError("multipart upload requires a 'file' part"))
			return
		}
		defer file.Close()
		body = file
	}

	rows, rowErrors, err := service.ParseCSV(body)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.links.Import(r.Context(), rows, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	result.Failed += len(rowErrors)
	result.Errors = append(rowErrors, result.Errors...)
	h.reloadDataAsync()
	writeData(w, http.StatusOK, result)
}

// ExportLinks handles GET /link/export as a chunked CSV stream.
func (h *AdminHandler) ExportLinks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := parseLinkFilter(q.Get("search"), q.Get("created_after"), q.Get("created_before"),
		q.Get("only_expired") == "true", q.Get("only_active") == "true")
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="links.csv"`)
	// No Content-Length: the response streams chunked.
	n, err := h.links.ExportCSV(r.Context(), h.streamer, filter, w)
	if err != nil {
		// Headers are gone; all we can do is log and cut the stream.
		h.logger.Error("CSV export aborted", "rows_written", n, "error", err)
		return
	}
}

// Reload handles POST /reload.
func (h *AdminHandler) Reload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	result, err := h.reloader.Reload(r.Context(), reload.ParseTarget(req.Target))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// reloadDataAsync refreshes caches after a mutation without blocking the
// response; a busy coordinator just means another reload is landing.
func (h *AdminHandler) reloadDataAsync() {
	go func() {
		if _, err := h.reloader.Reload(context.Background(), reload.TargetData); err != nil {
			if core.KindOf(err) != core.KindBusy {
				h.logger.Warn("Post-mutation cache reload failed", "error", err)
			}
		}
	}()
}

func parseLinkFilter(search, createdAfter, createdBefore string, onlyExpired, onlyActive bool) (core.LinkFilter, error) {
	filter := core.LinkFilter{
		Search:      search,
		OnlyExpired: onlyExpired,
		OnlyActive:  onlyActive,
	}
	if createdAfter != "" {
		t, err := time.Parse(time.RFC3339, createdAfter)
		if err != nil {
			return filter, core.NewValidationError("invalid created_after: " + err.Error())
		}
		filter.CreatedAfter = &t
	}
	if createdBefore != "" {
		t, err := time.Parse(time.RFC3339, createdBefore)
		if err != nil {
			return filter, core.NewValidationError("invalid created_before: " + err.Error())
		}
		filter.CreatedBefore = &t
	}
	return filter, nil
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
