package checkpoint

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/grovedb/grove/internal/health"
	"github.com/grovedb/grove/internal/storage"
	"github.com/grovedb/grove/internal/tracing"
)

// NoTransactionID is returned by trigger calls that did not checkpoint:
// contended no-wait attempts, not-needed opportunistic checks, and
// requests arriving after shutdown.
const NoTransactionID int64 = -1

const (
	checkpointTag       = "checkpoint"
	ioDetailsTemplate   = "Checkpoint flushed %d pages (%d%% of total available pages), in %d IOs. Checkpoint performed with IO limit: %s, paused in total %d times( %d millis)."
	unlimitedIOLimit    = "unlimited"
	alreadyRunningLine  = " Check pointing was already running, completed now"
	shutdownRequestLine = "Checkpoint was requested on already shutdown check pointer. Requester: "
)

// FlushOperation flushes all dirty pages and fsyncs the backing files,
// reporting its work into the flush event. The page cache provides it;
// the coordinator only invokes it and trusts its result.
type FlushOperation func(flush *tracing.FlushEvent, ctx *tracing.CursorContext) error

// CheckPointer coordinates checkpoints: it gates triggers through the
// threshold policy, serializes execution through the mutex, runs the
// flush-then-record protocol, prunes the log, and publishes the latest
// checkpoint info.
//
// Thread-safety model:
//   - all public trigger methods are safe from any goroutine
//   - LatestCheckPointInfo is a lock-free acquire-load
//   - the mutex provides a total order over checkpoint executions
type CheckPointer struct {
	txStore   storage.TransactionIDStore
	threshold Threshold
	flush     FlushOperation
	pruner    storage.LogPruner
	appender  storage.CheckpointAppender
	panic     *health.Panic
	log       *slog.Logger
	tracer    tracing.DatabaseTracer
	mutex     *Mutex
	contexts  *tracing.CursorContextFactory
	clock     storage.Clock
	io        storage.IOController
	versions  storage.KernelVersionProvider

	shutdown atomic.Bool
	latest   atomic.Pointer[LatestCheckpointInfo]
}

// NewCheckPointer wires a coordinator from its collaborators. All of
// them must already be constructed; the coordinator owns none of them.
func NewCheckPointer(
	txStore storage.TransactionIDStore,
	threshold Threshold,
	flush FlushOperation,
	pruner storage.LogPruner,
	appender storage.CheckpointAppender,
	databasePanic *health.Panic,
	log *slog.Logger,
	tracer tracing.DatabaseTracer,
	mutex *Mutex,
	contexts *tracing.CursorContextFactory,
	clock storage.Clock,
	io storage.IOController,
	versions storage.KernelVersionProvider,
) *CheckPointer {
	c := &CheckPointer{
		txStore:   txStore,
		threshold: threshold,
		flush:     flush,
		pruner:    pruner,
		appender:  appender,
		panic:     databasePanic,
		log:       log,
		tracer:    tracer,
		mutex:     mutex,
		contexts:  contexts,
		clock:     clock,
		io:        io,
		versions:  versions,
	}
	c.latest.Store(&UnknownCheckpointInfo)
	return c
}

// Start initializes the threshold with the current last closed
// transaction. Must be called before any trigger method.
func (c *CheckPointer) Start() {
	last := c.txStore.LastClosed()
	c.threshold.Initialize(last.ID, last.LogPosition)
}

// Shutdown latches the shutdown flag. It takes the mutex first, so an
// in-flight checkpoint completes normally and the flag becomes visible
// only between checkpoints. Shutdown is terminal: every later trigger
// returns NoTransactionID with a warning.
func (c *CheckPointer) Shutdown() {
	guard := c.mutex.Lock()
	defer guard.Release()
	c.shutdown.Store(true)
}

// ForceCheckPoint runs a checkpoint unconditionally, waiting for any
// running one to finish first. Returns the id of the transaction just
// checkpointed.
func (c *CheckPointer) ForceCheckPoint(info TriggerInfo) (int64, error) {
	guard := c.mutex.Lock()
	defer guard.Release()
	return c.checkpointByTrigger(info)
}

// ForceCheckPointAt runs a checkpoint for externally supplied
// transaction and position, used by backup and cluster threads that
// already hold a consistent pair. The given values are recorded
// verbatim.
func (c *CheckPointer) ForceCheckPointAt(tx storage.TransactionID, pos storage.LogPosition, info TriggerInfo) (int64, error) {
	guard := c.mutex.Lock()
	defer guard.Release()
	return c.checkpointByExternalParams(tx, pos, info)
}

// TryCheckPoint runs a checkpoint, or joins one already running: when
// contended it waits for the running checkpoint to finish and returns
// that checkpoint's transaction id instead of starting a second one.
// A barrier, not a queue.
func (c *CheckPointer) TryCheckPoint(info TriggerInfo) (int64, error) {
	return c.TryCheckPointUntil(info, func() bool { return false })
}

// TryCheckPointNoWait is TryCheckPoint that gives up immediately when
// another checkpoint is running, returning NoTransactionID without
// touching any collaborator.
func (c *CheckPointer) TryCheckPointNoWait(info TriggerInfo) (int64, error) {
	return c.TryCheckPointUntil(info, func() bool { return true })
}

// TryCheckPointUntil is TryCheckPoint with a bounded join: the wait
// for the running checkpoint is abandoned once the timeout predicate
// reports true, returning NoTransactionID.
func (c *CheckPointer) TryCheckPointUntil(info TriggerInfo, timeout func() bool) (int64, error) {
	if guard := c.mutex.TryLock(); guard != nil {
		defer guard.Release()
		return c.checkpointByTrigger(info)
	}
	guard := c.mutex.TryLockUntil(timeout)
	if guard == nil {
		return NoTransactionID, nil
	}
	defer guard.Release()
	last := c.LatestCheckPointInfo()
	c.log.Info(info.Describe(last) + alreadyRunningLine)
	return int64(last.CommittedTx.ID), nil
}

// CheckPointIfNeeded asks the threshold whether a checkpoint is due
// and runs one if so. When not needed it returns NoTransactionID
// without acquiring the mutex.
func (c *CheckPointer) CheckPointIfNeeded(info TriggerInfo) (int64, error) {
	last := c.txStore.LastClosed()
	if c.threshold.IsNeeded(last.ID, last.LogPosition, info) {
		guard := c.mutex.Lock()
		defer guard.Release()
		return c.checkpointByTrigger(info)
	}
	return NoTransactionID, nil
}

// LatestCheckPointInfo returns the published result of the last
// successful checkpoint, UnknownCheckpointInfo before the first one.
// Lock-free; never observes a torn intermediate.
func (c *CheckPointer) LatestCheckPointInfo() LatestCheckpointInfo {
	return *c.latest.Load()
}

func (c *CheckPointer) checkpointByTrigger(info TriggerInfo) (int64, error) {
	if c.shutdown.Load() {
		c.logShutdownMessage(info)
		return NoTransactionID, nil
	}
	last := c.txStore.LastClosed()
	return c.checkpointByExternalParams(last.TransactionID, last.LogPosition, info)
}

func (c *CheckPointer) checkpointByExternalParams(tx storage.TransactionID, pos storage.LogPosition, info TriggerInfo) (int64, error) {
	if c.shutdown.Load() {
		c.logShutdownMessage(info)
		return NoTransactionID, nil
	}
	return c.doCheckpoint(tx, pos, info)
}

// doCheckpoint executes the checkpoint protocol with the mutex held:
//
//	panic check -> flush -> panic check -> append -> threshold update
//	-> prune -> publish
//
// The append is the commit point. On any failure before the append
// succeeds, neither the latest info nor the threshold state is touched
// and the log is not pruned; the next recovery replays from the
// previous checkpoint, which is always safe. A prune failure after the
// append leaves the threshold updated but the latest info unpublished.
func (c *CheckPointer) doCheckpoint(tx storage.TransactionID, pos storage.LogPosition, info TriggerInfo) (_ int64, err error) {
	event := c.tracer.BeginCheckPoint()
	defer event.Close()
	ctx := c.contexts.Create(checkpointTag)
	defer ctx.Close()
	defer func() {
		// Failure is only logged here; the retry decision belongs to
		// the caller, which differs between the background scheduler
		// and shutdown.
		if err != nil {
			c.log.Error("Checkpoint failed", "error", err)
		}
	}()

	ctx.VersionContext().InitWrite(tx.ID)
	version := c.versions.KernelVersion()
	ongoing := LatestCheckpointInfo{CommittedTx: tx, KernelVersion: version}
	reason := info.Describe(ongoing)

	// Check the panic latch before waiting on subsystems that may
	// never respond once the database has panicked.
	if perr := c.panic.AssertNoPanic(); perr != nil {
		return NoTransactionID, &PanicError{Stage: PanicBeforeFlush, Cause: perr}
	}

	c.log.Info(reason + " checkpoint started...")
	start := c.clock.Now()

	flush := event.BeginFlush()
	ferr := c.flush(flush, ctx)
	flush.IOControllerLimit(c.io.ConfiguredLimit())
	flush.Close()
	if ferr != nil {
		return NoTransactionID, fmt.Errorf("flush and force: %w", ferr)
	}

	// A panic raised during the flush aborts the checkpoint before the
	// record is written. The flush itself is harmless without a record:
	// recovery replays from the previous checkpoint.
	if perr := c.panic.AssertNoPanic(); perr != nil {
		return NoTransactionID, &PanicError{Stage: PanicAfterFlush, Cause: perr}
	}

	if aerr := c.appender.CheckPoint(event, tx, version, pos, c.clock.Now(), reason); aerr != nil {
		return NoTransactionID, fmt.Errorf("append checkpoint record: %w", aerr)
	}
	c.threshold.OnCheckpoint(tx.ID, pos)
	elapsed := c.clock.Now().Sub(start)
	event.CheckpointCompleted(elapsed)
	c.log.Info(c.checkpointMessage(event, reason, elapsed))

	// Prune up to the version the checkpoint points at, which may be
	// earlier than the current log version.
	if perr := c.pruner.PruneLogs(pos.LogVersion); perr != nil {
		return NoTransactionID, fmt.Errorf("prune transaction logs: %w", perr)
	}
	c.latest.Store(&ongoing)
	return int64(tx.ID), nil
}

func (c *CheckPointer) checkpointMessage(event *tracing.CheckpointEvent, reason string, elapsed time.Duration) string {
	ioDetails := fmt.Sprintf(ioDetailsTemplate,
		event.PagesFlushed(),
		int(event.FlushRatio()*100),
		event.IOsPerformed(),
		c.ioLimitDescription(event.ConfiguredIOLimit()),
		event.TimesPaused(),
		event.MillisPaused(),
	)
	return reason + " checkpoint completed in " + elapsed.Truncate(time.Millisecond).String() + ". " + ioDetails
}

func (c *CheckPointer) ioLimitDescription(limit int64) string {
	if c.io.Enabled() && limit >= 0 {
		return strconv.FormatInt(limit, 10)
	}
	return unlimitedIOLimit
}

func (c *CheckPointer) logShutdownMessage(info TriggerInfo) {
	c.log.Warn(shutdownRequestLine + info.Describe(UnknownCheckpointInfo))
}
