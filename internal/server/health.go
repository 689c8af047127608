package server

import (
	"net/http"

	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/service"
)

// HealthHandler serves the liveness, readiness and detailed health
// endpoints. The detailed endpoint requires the health token when one
// is configured.
type HealthHandler struct {
	health  *service.HealthService
	configs *config.Handle
}

// NewHealthHandler wires health reporting.
func NewHealthHandler(health *service.HealthService, configs *config.Handle) *HealthHandler {
	return &HealthHandler{health: health, configs: configs}
}

// Live handles GET /live: pure process liveness.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// Ready handles GET /ready: storage connectivity.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.health.Ready(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.Write([]byte("ok"))
}

// Detailed handles GET /health with the full status payload.
func (h *HealthHandler) Detailed(w http.ResponseWriter, r *http.Request) {
	token := h.configs.Current().GetOr(config.KeyHealthToken, "")
	if token != "" {
		presented := bearerToken(r)
		if presented == "" || !verifyToken(token, presented) {
			writeError(w, core.NewAuthError("missing or invalid health token"))
			return
		}
	}

	status := h.health.Check(r.Context())
	httpStatus := http.StatusOK
	if status.Status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, status)
}
