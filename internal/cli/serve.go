package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/esap-cc/shortlinker/internal/cache"
	"github.com/esap-cc/shortlinker/internal/click"
	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/ipc"
	"github.com/esap-cc/shortlinker/internal/reload"
	"github.com/esap-cc/shortlinker/internal/server"
	"github.com/esap-cc/shortlinker/internal/service"
	"github.com/esap-cc/shortlinker/internal/storage"
	"github.com/esap-cc/shortlinker/pkg/logger"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the shortlinker server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8080, or PORT)")
	return cmd
}

// runServe bootstraps the full dependency graph and runs the server
// until shutdown.
func runServe(ctx context.Context, opts *rootOptions, addr string) error {
	log := logger.NewLogger(logger.Config{
		Level:    envOr("LOG_LEVEL", "info"),
		Format:   envOr("LOG_FORMAT", "json"),
		Output:   envOr("LOG_OUTPUT", "stdout"),
		Filename: os.Getenv("LOG_FILE"),
		MaxSize:  100,
	})

	backendName := os.Getenv("STORAGE_BACKEND")
	if backendName == "" {
		return fmt.Errorf("STORAGE_BACKEND must be set (sqlite, postgres or mysql)")
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}

	log.Info("Starting shortlinker",
		"version", Version,
		"backend", backendName,
	)

	backend, err := storage.Open(ctx, backendName, dsn, storage.DefaultOptions(), log)
	if err != nil {
		return err
	}
	defer backend.Close()

	// Configuration: seed defaults, then publish the first snapshot.
	configStore := config.NewStore(backend, log)
	if err := configStore.EnsureDefaults(ctx); err != nil {
		return err
	}
	configs := config.NewHandle(configStore)
	if err := configs.Reload(ctx); err != nil {
		return err
	}
	rt := configs.Current()

	// Cache layers sized from config.
	cacheCfg := cache.DefaultConfig()
	cacheCfg.ObjectSize = int(rt.GetIntOr(config.KeyCacheObjectSize, int64(cache.DefaultObjectCacheSize)))
	cacheCfg.NegativeTTL = rt.GetDurationSecondsOr(config.KeyCacheNegativeTTL, cache.DefaultNegativeTTL)
	composite, err := cache.NewComposite(cacheCfg, log)
	if err != nil {
		return err
	}

	// Click pipeline.
	buffer := click.NewBuffer(click.DefaultDetailCapacity)
	var flusher *click.Flusher
	if rt.GetBoolOr(config.KeyEnableTracking, true) {
		flusher = click.NewFlusher(buffer, backend, storage.NewRollupWriter(backend), backend,
			click.FlusherConfig{
				Interval:       rt.GetDurationSecondsOr(config.KeyFlushInterval, click.DefaultFlushInterval),
				MaxBeforeFlush: rt.GetIntOr(config.KeyMaxClicksBeforeFlush, click.DefaultMaxBeforeFlush),
			}, log)
	}

	// Reload control plane; an initial data reload warms the caches.
	coordinator := reload.NewCoordinator(configs, composite, backend, log)
	if _, err := coordinator.Reload(ctx, reload.TargetData); err != nil {
		log.Warn("Initial cache warm-up failed, serving cold", "error", err)
	}

	links := service.NewLinkService(backend, composite, log)
	health := service.NewHealthService(backend, Version)

	router := server.NewRouter(server.RouterDeps{
		Redirect:  server.NewRedirectHandler(composite, backend, buffer, configs, log),
		Admin:     server.NewAdminHandler(links, backend, coordinator, log),
		Analytics: server.NewAnalyticsHandler(backend),
		Config:    server.NewConfigHandler(configStore),
		Health:    server.NewHealthHandler(health, configs),
		Configs:   configs,
		Logger:    log,
	})

	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			if _, err := strconv.Atoi(port); err != nil {
				return fmt.Errorf("invalid PORT %q", port)
			}
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}

	ipcServer := ipc.NewServer(opts.socketPath, log)
	server.RegisterIPCHandlers(ipcServer, server.IPCDeps{
		Links:    links,
		Streamer: backend,
		Configs:  configStore,
		Reloader: coordinator,
		Version:  Version,
	})

	srv := &server.Server{
		HTTP: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Flusher: flusher,
		IPC:     ipcServer,
		Reload:  coordinator,
		Logger:  log,
	}
	return srv.Run(ctx)
}
