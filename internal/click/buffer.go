// Package click implements the click-tracking pipeline: a lock-free
// counter buffer fed by the redirect hot path, an optional bounded
// channel of detailed events, and the flusher that drains both into
// storage and the rollup tables.
package click

import (
	"sync"
	"sync/atomic"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/metrics"
)

// DefaultDetailCapacity bounds the detailed-event channel.
const DefaultDetailCapacity = 10_000

// counterMap is one generation of the click counter buffer. The whole
// generation is swapped out at flush time, so increments landing during
// a flush start the next generation instead of being lost mid-drain.
type counterMap struct {
	counters sync.Map // code -> *int64
	unique   atomic.Int64
}

func (m *counterMap) increment(code string) {
	v, loaded := m.counters.LoadOrStore(code, new(int64))
	if !loaded {
		m.unique.Add(1)
	}
	atomic.AddInt64(v.(*int64), 1)
}

func (m *counterMap) snapshot() map[string]int64 {
	out := make(map[string]int64)
	m.counters.Range(func(key, value any) bool {
		if n := atomic.LoadInt64(value.(*int64)); n > 0 {
			out[key.(string)] = n
		}
		return true
	})
	return out
}

// Buffer is the process-wide click accumulator. Increment is a
// non-blocking atomic add; RecordDetailed is a non-blocking channel send
// that drops on a full channel.
type Buffer struct {
	current atomic.Pointer[counterMap]
	details chan core.ClickDetail
}

// NewBuffer builds a buffer with the given detail channel capacity.
func NewBuffer(detailCapacity int) *Buffer {
	if detailCapacity <= 0 {
		detailCapacity = DefaultDetailCapacity
	}
	b := &Buffer{
		details: make(chan core.ClickDetail, detailCapacity),
	}
	b.current.Store(&counterMap{})
	return b
}

// Increment bumps the counter for code. Never blocks.
func (b *Buffer) Increment(code string) {
	b.current.Load().increment(code)
}

// RecordDetailed enqueues a detailed event; on a full channel the event
// is dropped and the dropped counter incremented.
func (b *Buffer) RecordDetailed(detail core.ClickDetail) {
	select {
	case b.details <- detail:
	default:
		metrics.ClickDetailDroppedTotal.WithLabelValues("channel_full").Inc()
	}
}

// UniqueKeys reports how many distinct codes the current generation holds.
func (b *Buffer) UniqueKeys() int64 {
	return b.current.Load().unique.Load()
}

// SwapCounters atomically replaces the counter generation and returns a
// snapshot of the old one.
func (b *Buffer) SwapCounters() map[string]int64 {
	old := b.current.Swap(&counterMap{})
	return old.snapshot()
}

// DrainDetails removes up to max buffered detail events without blocking.
func (b *Buffer) DrainDetails(max int) []core.ClickDetail {
	if max <= 0 {
		return nil
	}
	out := make([]core.ClickDetail, 0, min(max, len(b.details)))
	for len(out) < max {
		select {
		case d := <-b.details:
			out = append(out, d)
		default:
			return out
		}
	}
	return out
}

var _ core.ClickRecorder = (*Buffer)(nil)
