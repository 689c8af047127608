package click

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/metrics"
)

const (
	// DefaultFlushInterval is the periodic flush cadence.
	DefaultFlushInterval = 30 * time.Second
	// DefaultMaxBeforeFlush triggers an early flush once this many
	// distinct codes have accumulated.
	DefaultMaxBeforeFlush = 100
	// detailDrainBatch bounds how many detail events one flush handles.
	detailDrainBatch = 5000
	// triggerPollInterval is how often the threshold condition is checked.
	triggerPollInterval = time.Second
)

// RollupSink receives the aggregated rollup writes of a flush.
// *storage.RollupWriter is the production implementation.
type RollupSink interface {
	UpsertHourlyCounts(ctx context.Context, updates map[string]int64, ts time.Time, opPrefix string) error
	UpsertDailyCounts(ctx context.Context, updates map[string]int64, ts time.Time, opPrefix string) error
	UpsertHourlyWithDetails(ctx context.Context, aggregated map[core.AggKey]*core.ClickAggregation, opPrefix string) error
	UpsertGlobalHourly(ctx context.Context, hourBucket time.Time, clicks, uniqueLinks int64, opPrefix string) error
}

// DetailSink persists raw detail events; *storage.Backend implements it.
type DetailSink interface {
	InsertClickDetails(ctx context.Context, details []core.ClickDetail) error
	RecordUserAgents(ctx context.Context, hits map[string]int64, now time.Time) error
}

// Flusher drains the click buffer into storage on a timer or when the
// unique-code threshold is reached. A single atomic guard coalesces
// overlapping triggers; the swapped snapshot is dropped on failure, so
// click accounting is at-most-once by design.
type Flusher struct {
	buffer  *Buffer
	sink    core.ClickSink
	rollup  RollupSink
	details DetailSink
	logger  *slog.Logger

	interval  time.Duration
	threshold int64

	inFlight  atomic.Bool
	lastFlush atomic.Int64 // unix nanos
	now       func() time.Time
}

// FlusherConfig tunes the flush triggers.
type FlusherConfig struct {
	Interval       time.Duration
	MaxBeforeFlush int64
}

// NewFlusher wires the flusher. rollup and details may be nil when
// analytics persistence is disabled; counter flushes still run.
func NewFlusher(buffer *Buffer, sink core.ClickSink, rollup RollupSink, details DetailSink, cfg FlusherConfig, logger *slog.Logger) *Flusher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	threshold := cfg.MaxBeforeFlush
	if threshold <= 0 {
		threshold = DefaultMaxBeforeFlush
	}
	f := &Flusher{
		buffer:    buffer,
		sink:      sink,
		rollup:    rollup,
		details:   details,
		logger:    logger,
		interval:  interval,
		threshold: threshold,
		now:       time.Now,
	}
	f.lastFlush.Store(f.now().UnixNano())
	return f
}

// Run executes the flush loop until ctx is cancelled, then performs one
// final flush so buffered clicks survive shutdown.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(triggerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.flush(context.Background(), "shutdown")
			return
		case <-ticker.C:
			if trigger, due := f.due(); due {
				f.flush(ctx, trigger)
			}
		}
	}
}

func (f *Flusher) due() (string, bool) {
	if f.buffer.UniqueKeys() >= f.threshold {
		return "threshold", true
	}
	last := time.Unix(0, f.lastFlush.Load())
	if f.now().Sub(last) >= f.interval {
		return "interval", true
	}
	return "", false
}

// Flush forces a flush outside the normal triggers (admin, shutdown).
func (f *Flusher) Flush(ctx context.Context) {
	f.flush(ctx, "manual")
}

func (f *Flusher) flush(ctx context.Context, trigger string) {
	// Single-slot guard: a concurrent trigger is coalesced, not queued.
	if !f.inFlight.CompareAndSwap(false, true) {
		f.logger.Debug("Flush already in progress, coalescing", "trigger", trigger)
		return
	}
	defer f.inFlight.Store(false)

	start := f.now()
	f.lastFlush.Store(start.UnixNano())

	counters := f.buffer.SwapCounters()
	details := f.buffer.DrainDetails(detailDrainBatch)
	if len(counters) == 0 && len(details) == 0 {
		return
	}

	if err := f.flushOnce(ctx, counters, details, start); err != nil {
		// The snapshot is gone: under-count beats double-count.
		f.logger.Error("Click flush failed, dropping snapshot",
			"trigger", trigger,
			"codes", len(counters),
			"details", len(details),
			"error", err,
		)
		metrics.ClickFlushTotal.WithLabelValues(trigger, "failure").Inc()
		return
	}

	metrics.ClickFlushTotal.WithLabelValues(trigger, "success").Inc()
	metrics.ClickFlushDuration.Observe(f.now().Sub(start).Seconds())
	f.logger.Debug("Click flush completed",
		"trigger", trigger,
		"codes", len(counters),
		"details", len(details),
	)
}

func (f *Flusher) flushOnce(ctx context.Context, counters map[string]int64, details []core.ClickDetail, now time.Time) error {
	if len(counters) > 0 {
		if err := f.sink.FlushClicks(ctx, counters); err != nil {
			return err
		}
	}

	if f.rollup == nil {
		return nil
	}

	if len(counters) > 0 {
		if err := f.rollup.UpsertHourlyCounts(ctx, counters, now, "sink"); err != nil {
			return err
		}
		if err := f.rollup.UpsertDailyCounts(ctx, counters, now, "sink"); err != nil {
			return err
		}
	}

	if len(details) > 0 {
		if f.details != nil {
			if err := f.details.InsertClickDetails(ctx, details); err != nil {
				return err
			}
			if err := f.details.RecordUserAgents(ctx, userAgentHits(details), now); err != nil {
				return err
			}
		}
		aggregated := core.AggregateDetails(details)
		if err := f.rollup.UpsertHourlyWithDetails(ctx, aggregated, "sink"); err != nil {
			return err
		}
	}

	var total int64
	for _, n := range counters {
		total += n
	}
	return f.rollup.UpsertGlobalHourly(ctx, now, total, int64(len(counters)), "sink")
}

func userAgentHits(details []core.ClickDetail) map[string]int64 {
	hits := make(map[string]int64)
	for i := range details {
		if ua := details[i].UserAgent; ua != "" {
			hits[ua]++
		}
	}
	return hits
}
