package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/esap-cc/shortlinker/internal/cache"
	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/ipc"
	"github.com/esap-cc/shortlinker/internal/service"
	"github.com/esap-cc/shortlinker/internal/storage"
)

// dispatcher routes CLI operations IPC-first: when a running server is
// reachable on the socket, operations go through it (so caches and
// counters stay coherent); otherwise the command opens storage directly
// with a null cache. This keeps the CLI usable in both modes.
type dispatcher struct {
	client *ipc.Client
	logger *slog.Logger

	// Direct-mode collaborators, populated lazily.
	backend *storage.Backend
	links   *service.LinkService
	configs *config.Store
}

func newDispatcher(opts *rootOptions) *dispatcher {
	return &dispatcher{
		client: ipc.NewClient(opts.socketPath),
		logger: newCLILogger(opts),
	}
}

// viaIPC reports whether a server is reachable.
func (d *dispatcher) viaIPC() bool {
	return d.client.Available()
}

// direct opens the storage-backed collaborators for offline mode.
func (d *dispatcher) direct(ctx context.Context) error {
	if d.backend != nil {
		return nil
	}
	backendName := os.Getenv("STORAGE_BACKEND")
	if backendName == "" {
		backendName = "sqlite"
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return core.NewValidationError("DATABASE_URL must be set when no server is running")
	}

	backend, err := storage.Open(ctx, backendName, dsn, storage.DefaultOptions(), d.logger)
	if err != nil {
		return err
	}
	d.backend = backend
	d.links = service.NewLinkService(backend, cache.NewNull(), d.logger)
	d.configs = config.NewStore(backend, d.logger)
	return nil
}

// close releases direct-mode resources.
func (d *dispatcher) close() {
	if d.backend != nil {
		d.backend.Close()
	}
}
