package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/esap-cc/shortlinker/internal/click"
	"github.com/esap-cc/shortlinker/internal/ipc"
	"github.com/esap-cc/shortlinker/internal/reload"
)

// shutdownDrainBudget bounds the in-flight request drain.
const shutdownDrainBudget = 30 * time.Second

// Server ties the HTTP listener, the click flusher, the IPC endpoint and
// signal handling into one lifecycle.
type Server struct {
	HTTP    *http.Server
	Flusher *click.Flusher
	IPC     *ipc.Server
	Reload  *reload.Coordinator
	Logger  *slog.Logger
	Pidfile string

	shutdown chan struct{}
}

// Run starts everything and blocks until SIGTERM/SIGINT or an IPC
// shutdown request, then drains: stop accepting connections, wait out
// in-flight requests, flush the click buffer one final time.
func (s *Server) Run(ctx context.Context) error {
	if err := WritePidfile(s.Pidfile); err != nil {
		return err
	}
	defer RemovePidfile(s.Pidfile)

	s.shutdown = make(chan struct{})
	if s.IPC != nil {
		s.IPC.OnShutdown = func() {
			select {
			case <-s.shutdown:
			default:
				close(s.shutdown)
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		s.Logger.Info("HTTP server starting", "addr", s.HTTP.Addr)
		if err := s.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if s.Flusher != nil {
		g.Go(func() error {
			s.Flusher.Run(gctx)
			return nil
		})
	}

	if s.IPC != nil {
		g.Go(func() error {
			return s.IPC.Serve(gctx)
		})
	}

	reload.ListenSignals(gctx, s.Reload, s.Logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.Logger.Info("Shutdown signal received", "signal", sig.String())
	case <-s.shutdown:
		s.Logger.Info("Shutdown requested via IPC")
	case <-gctx.Done():
	}

	// Stop accepting new connections and drain in-flight requests.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownDrainBudget)
	defer drainCancel()
	if err := s.HTTP.Shutdown(drainCtx); err != nil {
		s.Logger.Warn("HTTP drain incomplete, forcing close", "error", err)
		s.HTTP.Close()
	}

	// Cancelling the group triggers the flusher's final flush.
	cancel()
	if err := g.Wait(); err != nil {
		s.Logger.Error("Component failed during shutdown", "error", err)
		return err
	}

	s.Logger.Info("Server exited")
	return nil
}
