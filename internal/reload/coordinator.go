// Package reload coordinates atomic rebuilds of the runtime config and
// the cache layers, triggered by OS signals, IPC requests or internal
// link mutations.
package reload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/esap-cc/shortlinker/internal/config"
	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/metrics"
)

// Target selects what a reload rebuilds.
type Target string

const (
	TargetData   Target = "data"
	TargetConfig Target = "config"
	TargetAll    Target = "all"
)

// ParseTarget normalizes a target token, defaulting to all.
func ParseTarget(s string) Target {
	switch Target(s) {
	case TargetData, TargetConfig:
		return Target(s)
	default:
		return TargetAll
	}
}

// warmLimit bounds how many recent links are pushed into L2 on reload.
const warmLimit = 10_000

// DataSource is the storage slice the coordinator needs.
type DataSource interface {
	LoadAllCodes(ctx context.Context) ([]string, error)
	ListPaginated(ctx context.Context, filter core.LinkFilter, page, pageSize int) ([]*core.ShortLink, int64, error)
}

// Result reports per-step durations of a completed reload.
type Result struct {
	Target     Target        `json:"target"`
	ConfigTime time.Duration `json:"config_duration,omitempty"`
	DataTime   time.Duration `json:"data_duration,omitempty"`
	Codes      int           `json:"codes,omitempty"`
	Warmed     int           `json:"warmed,omitempty"`
}

// Coordinator serializes reload requests. A second request while one is
// running is rejected with busy rather than queued; partial failure
// leaves the previous state active.
type Coordinator struct {
	mu      sync.Mutex
	configs *config.Handle
	cache   core.CompositeCache
	source  DataSource
	logger  *slog.Logger
}

// NewCoordinator wires the coordinator.
func NewCoordinator(configs *config.Handle, cache core.CompositeCache, source DataSource, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		configs: configs,
		cache:   cache,
		source:  source,
		logger:  logger,
	}
}

// Reload executes the requested rebuild. Returns busy when another
// reload is in flight.
func (c *Coordinator) Reload(ctx context.Context, target Target) (*Result, error) {
	if !c.mu.TryLock() {
		metrics.ReloadTotal.WithLabelValues(string(target), "busy").Inc()
		return nil, core.NewBusyError("reload already in progress")
	}
	defer c.mu.Unlock()

	start := time.Now()
	result := &Result{Target: target}

	if target == TargetConfig || target == TargetAll {
		stepStart := time.Now()
		if err := c.configs.Reload(ctx); err != nil {
			metrics.ReloadTotal.WithLabelValues(string(target), "failure").Inc()
			c.logger.Error("Config reload failed, previous snapshot stays active", "error", err)
			return nil, err
		}
		result.ConfigTime = time.Since(stepStart)
	}

	if target == TargetData || target == TargetAll {
		stepStart := time.Now()
		if err := c.reloadData(ctx, result); err != nil {
			metrics.ReloadTotal.WithLabelValues(string(target), "failure").Inc()
			c.logger.Error("Data reload failed, previous cache stays active", "error", err)
			return nil, err
		}
		result.DataTime = time.Since(stepStart)
	}

	metrics.ReloadTotal.WithLabelValues(string(target), "success").Inc()
	metrics.ReloadDuration.WithLabelValues(string(target)).Observe(time.Since(start).Seconds())
	c.logger.Info("Reload completed",
		"target", target,
		"config_ms", result.ConfigTime.Milliseconds(),
		"data_ms", result.DataTime.Milliseconds(),
		"codes", result.Codes,
		"warmed", result.Warmed,
	)
	return result, nil
}

// reloadData rebuilds the existence filter from the full code list, then
// warms L2 with a bounded prefix of the most recent links. All reads
// happen before any cache state is touched, so a storage failure leaves
// the old cache intact.
func (c *Coordinator) reloadData(ctx context.Context, result *Result) error {
	codes, err := c.source.LoadAllCodes(ctx)
	if err != nil {
		return err
	}

	warm, _, err := c.source.ListPaginated(ctx, core.LinkFilter{OnlyActive: true}, 1, warmLimit)
	if err != nil {
		return err
	}

	links := make(map[string]*core.ShortLink, len(warm))
	now := time.Now().UTC()
	for _, link := range warm {
		if link.Expired(now) {
			continue
		}
		links[link.Code] = link
	}

	c.cache.ReloadAll(core.BloomConfig{
		Capacity: uint(len(codes)),
		FPRate:   0.001,
	}, codes, links)

	result.Codes = len(codes)
	result.Warmed = len(links)
	return nil
}
