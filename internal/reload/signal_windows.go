//go:build windows

package reload

import (
	"context"
	"log/slog"
)

// ListenSignals is a no-op on Windows; reloads arrive via IPC instead.
func ListenSignals(_ context.Context, _ *Coordinator, logger *slog.Logger) {
	logger.Debug("Signal-based reload not available on this platform; use the IPC reload command")
}
