package tracing

import (
	"sync/atomic"
	"time"
)

// DatabaseTracer hands out checkpoint events. Implemented by
// DefaultTracer (production) and test doubles.
type DatabaseTracer interface {
	BeginCheckPoint() *CheckpointEvent
}

// DefaultTracer accumulates lifetime totals across checkpoints.
type DefaultTracer struct {
	checkpoints atomic.Int64
}

// NewDefaultTracer creates a tracer with zeroed totals.
func NewDefaultTracer() *DefaultTracer {
	return &DefaultTracer{}
}

// BeginCheckPoint starts a new checkpoint event.
func (t *DefaultTracer) BeginCheckPoint() *CheckpointEvent {
	return &CheckpointEvent{tracer: t, ioLimit: -1}
}

// Checkpoints returns the number of completed checkpoints observed.
func (t *DefaultTracer) Checkpoints() int64 {
	return t.checkpoints.Load()
}

// CheckpointEvent carries the counters of one checkpoint: pages
// flushed, IOs performed, pacing pauses, and the IO limit the flush
// ran under. The flush path increments the counters through the
// FlushEvent; the coordinator reads them to format the completion
// line.
//
// Counters are atomic so the flush path may report from whichever
// goroutine performs the writes.
type CheckpointEvent struct {
	tracer *DefaultTracer

	pagesFlushed atomic.Int64
	iosPerformed atomic.Int64
	timesPaused  atomic.Int64
	millisPaused atomic.Int64
	totalPages   atomic.Int64

	ioLimit  int64
	duration time.Duration
}

// BeginFlush starts the nested database-flush scope.
func (e *CheckpointEvent) BeginFlush() *FlushEvent {
	return &FlushEvent{event: e}
}

// CheckpointCompleted records the wall-clock duration of the whole
// checkpoint.
func (e *CheckpointEvent) CheckpointCompleted(d time.Duration) {
	e.duration = d
	if e.tracer != nil {
		e.tracer.checkpoints.Add(1)
	}
}

// Close ends the event scope. Safe to call on failed checkpoints.
func (e *CheckpointEvent) Close() {}

// PagesFlushed returns the number of pages the flush wrote.
func (e *CheckpointEvent) PagesFlushed() int64 { return e.pagesFlushed.Load() }

// IOsPerformed returns the number of I/O operations the flush issued.
func (e *CheckpointEvent) IOsPerformed() int64 { return e.iosPerformed.Load() }

// TimesPaused returns how often the IO controller paused the flush.
func (e *CheckpointEvent) TimesPaused() int64 { return e.timesPaused.Load() }

// MillisPaused returns the total pause time in milliseconds.
func (e *CheckpointEvent) MillisPaused() int64 { return e.millisPaused.Load() }

// ConfiguredIOLimit returns the IO limit the flush ran under, or a
// negative value when no limit was recorded.
func (e *CheckpointEvent) ConfiguredIOLimit() int64 { return e.ioLimit }

// FlushRatio returns the fraction of available pages the flush wrote,
// in [0, 1]. Zero when the page total was never reported.
func (e *CheckpointEvent) FlushRatio() float64 {
	total := e.totalPages.Load()
	if total <= 0 {
		return 0
	}
	return float64(e.pagesFlushed.Load()) / float64(total)
}

// FlushEvent is the nested scope of one flush-and-force pass. All
// reporting methods delegate to the owning CheckpointEvent.
type FlushEvent struct {
	event *CheckpointEvent
}

// PagesFlushed adds n flushed pages.
func (f *FlushEvent) PagesFlushed(n int64) { f.event.pagesFlushed.Add(n) }

// IOsPerformed adds n performed I/O operations.
func (f *FlushEvent) IOsPerformed(n int64) { f.event.iosPerformed.Add(n) }

// Paused records one pacing pause of the given duration.
func (f *FlushEvent) Paused(d time.Duration) {
	f.event.timesPaused.Add(1)
	f.event.millisPaused.Add(d.Milliseconds())
}

// TotalPages reports how many pages were available to flush, the
// denominator of the flush ratio.
func (f *FlushEvent) TotalPages(n int64) { f.event.totalPages.Store(n) }

// IOControllerLimit records the IO limit the flush ran under.
func (f *FlushEvent) IOControllerLimit(limit int64) { f.event.ioLimit = limit }

// Close ends the flush scope.
func (f *FlushEvent) Close() {}
