package service

import (
	"context"
	"time"

	"github.com/esap-cc/shortlinker/internal/storage"
)

// HealthStatus is the detailed payload of the authed health endpoint.
type HealthStatus struct {
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	Backend       string    `json:"storage_backend"`
	StorageOK     bool      `json:"storage_ok"`
	StorageErr    string    `json:"storage_error,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	StartedAt     time.Time `json:"started_at"`
}

// HealthService reports process and dependency health.
type HealthService struct {
	backend   *storage.Backend
	version   string
	startedAt time.Time
}

// NewHealthService captures the process start time.
func NewHealthService(backend *storage.Backend, version string) *HealthService {
	return &HealthService{
		backend:   backend,
		version:   version,
		startedAt: time.Now().UTC(),
	}
}

// Check pings storage and assembles the status payload.
func (h *HealthService) Check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:        "ok",
		Version:       h.version,
		Backend:       string(h.backend.Dialect().Name()),
		StorageOK:     true,
		StartedAt:     h.startedAt,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if err := h.backend.Ping(ctx); err != nil {
		status.Status = "degraded"
		status.StorageOK = false
		status.StorageErr = err.Error()
	}
	return status
}

// Ready reports whether the service can take traffic.
func (h *HealthService) Ready(ctx context.Context) bool {
	return h.backend.Ping(ctx) == nil
}
