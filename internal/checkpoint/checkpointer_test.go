package checkpoint

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovedb/grove/internal/health"
	"github.com/grovedb/grove/internal/storage"
	"github.com/grovedb/grove/internal/testutil"
	"github.com/grovedb/grove/internal/tracing"
)

// fakeTxStore serves a settable last-closed snapshot.
type fakeTxStore struct {
	mu   sync.Mutex
	last storage.ClosedTransaction
}

func (s *fakeTxStore) LastClosed() storage.ClosedTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// recordingThreshold answers a fixed IsNeeded and records lifecycle calls.
type recordingThreshold struct {
	mu          sync.Mutex
	needed      bool
	initialized bool
	checkpoints []uint64
}

func (t *recordingThreshold) Initialize(txID uint64, pos storage.LogPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialized = true
}

func (t *recordingThreshold) IsNeeded(txID uint64, pos storage.LogPosition, info TriggerInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.needed
}

func (t *recordingThreshold) OnCheckpoint(txID uint64, pos storage.LogPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkpoints = append(t.checkpoints, txID)
}

func (t *recordingThreshold) checkpointCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.checkpoints)
}

type appendCall struct {
	tx      storage.TransactionID
	version storage.KernelVersion
	pos     storage.LogPosition
	at      time.Time
	reason  string
}

// recordingAppender records CheckPoint calls and can fail on demand.
type recordingAppender struct {
	mu    sync.Mutex
	calls []appendCall
	err   error
}

func (a *recordingAppender) CheckPoint(_ *tracing.CheckpointEvent, tx storage.TransactionID, version storage.KernelVersion, pos storage.LogPosition, at time.Time, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.calls = append(a.calls, appendCall{tx: tx, version: version, pos: pos, at: at, reason: reason})
	return nil
}

func (a *recordingAppender) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *recordingAppender) lastCall() appendCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

// recordingPruner records PruneLogs calls and can fail on demand.
type recordingPruner struct {
	mu    sync.Mutex
	calls []uint64
	err   error
}

func (p *recordingPruner) PruneLogs(upTo uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, upTo)
	return nil
}

func (p *recordingPruner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeIO struct {
	enabled bool
	limit   int64
}

func (f fakeIO) Enabled() bool          { return f.enabled }
func (f fakeIO) ConfiguredLimit() int64 { return f.limit }

// logBuffer is a goroutine-safe sink for the coordinator's slog output.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// harness wires a CheckPointer from recording fakes. The flush
// operation is the harness itself, so tests can latch it open or make
// it fail.
type harness struct {
	txs       *fakeTxStore
	threshold *recordingThreshold
	appender  *recordingAppender
	pruner    *recordingPruner
	panic     *health.Panic
	clock     *testutil.DeterministicClock
	logs      *logBuffer
	cp        *CheckPointer

	flushCalls   atomic.Int32
	flushErr     error
	flushStarted chan struct{} // receives one value per flush entry, when set
	flushRelease chan struct{} // flush blocks on it, when set
	onFlush      func()        // runs after the latch, before returning
}

func (h *harness) flush(flush *tracing.FlushEvent, ctx *tracing.CursorContext) error {
	h.flushCalls.Add(1)
	if h.flushStarted != nil {
		h.flushStarted <- struct{}{}
	}
	if h.flushRelease != nil {
		<-h.flushRelease
	}
	if h.onFlush != nil {
		h.onFlush()
	}
	return h.flushErr
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		txs: &fakeTxStore{last: storage.ClosedTransaction{
			TransactionID: storage.TransactionID{ID: 42, Checksum: 7, CommitTimestamp: 1000, ConsensusIndex: 3},
			LogPosition:   storage.LogPosition{LogVersion: 7, ByteOffset: 1024},
		}},
		threshold: &recordingThreshold{},
		appender:  &recordingAppender{},
		pruner:    &recordingPruner{},
		panic:     &health.Panic{},
		clock:     testutil.NewDeterministicClock(time.Unix(1_700_000_000, 0)),
		logs:      &logBuffer{},
	}
	h.cp = NewCheckPointer(
		h.txs,
		h.threshold,
		h.flush,
		h.pruner,
		h.appender,
		h.panic,
		slog.New(slog.NewTextHandler(h.logs, nil)),
		tracing.NewDefaultTracer(),
		NewMutex(),
		tracing.NewCursorContextFactory(),
		h.clock,
		fakeIO{enabled: false, limit: -1},
		storage.StaticKernelVersion(storage.CurrentKernelVersion),
	)
	h.cp.Start()
	return h
}

// TestForceCheckPoint_ColdStart runs the first forced checkpoint
// against a fresh coordinator and verifies the whole protocol fired.
func TestForceCheckPoint_ColdStart(t *testing.T) {
	h := newHarness(t)

	require.False(t, h.cp.LatestCheckPointInfo().Known())

	txID, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), txID)

	assert.Equal(t, int32(1), h.flushCalls.Load(), "flush invoked once")
	require.Equal(t, 1, h.appender.callCount())
	call := h.appender.lastCall()
	assert.Equal(t, uint64(42), call.tx.ID)
	assert.Equal(t, storage.LogPosition{LogVersion: 7, ByteOffset: 1024}, call.pos)
	assert.Equal(t, storage.CurrentKernelVersion, call.version)
	assert.Contains(t, call.reason, `Checkpoint triggered by "operator admin" @ txID 42`)

	require.Equal(t, 1, h.pruner.callCount())
	assert.Equal(t, uint64(7), h.pruner.calls[0])

	info := h.cp.LatestCheckPointInfo()
	assert.True(t, info.Known())
	assert.Equal(t, uint64(42), info.CommittedTx.ID)
	assert.Equal(t, storage.CurrentKernelVersion, info.KernelVersion)
	assert.Equal(t, 1, h.threshold.checkpointCount())
	assert.Contains(t, h.logs.String(), "checkpoint started...")
	assert.Contains(t, h.logs.String(), "checkpoint completed in")
}

// TestForceCheckPointAt_UsesExternalParamsVerbatim verifies the
// externally parameterized form does not consult the tx-id store.
func TestForceCheckPointAt_UsesExternalParamsVerbatim(t *testing.T) {
	h := newHarness(t)

	tx := storage.TransactionID{ID: 100, Checksum: 11, CommitTimestamp: 5, ConsensusIndex: 9}
	pos := storage.LogPosition{LogVersion: 9, ByteOffset: 512}
	txID, err := h.cp.ForceCheckPointAt(tx, pos, BackupTrigger("nightly"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), txID)

	call := h.appender.lastCall()
	assert.Equal(t, tx, call.tx)
	assert.Equal(t, pos, call.pos)
	assert.Contains(t, call.reason, `backup nightly`)
	assert.Equal(t, uint64(100), h.cp.LatestCheckPointInfo().CommittedTx.ID)
}

// TestCheckPointIfNeeded_NotNeededSkips verifies the not-needed path
// touches nothing.
func TestCheckPointIfNeeded_NotNeededSkips(t *testing.T) {
	h := newHarness(t)
	h.threshold.needed = false

	txID, err := h.cp.CheckPointIfNeeded(ScheduledTrigger())
	require.NoError(t, err)
	assert.Equal(t, NoTransactionID, txID)
	assert.Equal(t, int32(0), h.flushCalls.Load())
	assert.Equal(t, 0, h.appender.callCount())
	assert.Equal(t, 0, h.pruner.callCount())
}

// TestCheckPointIfNeeded_Needed runs a checkpoint when the threshold fires.
func TestCheckPointIfNeeded_Needed(t *testing.T) {
	h := newHarness(t)
	h.threshold.needed = true

	txID, err := h.cp.CheckPointIfNeeded(ScheduledTrigger())
	require.NoError(t, err)
	assert.Equal(t, int64(42), txID)
	assert.Equal(t, 1, h.appender.callCount())
}

// TestTryCheckPoint_JoinsRunningCheckpoint latches a forced checkpoint
// open in flush and has a second caller join it: the joiner must
// return the first checkpoint's tx id without triggering a second
// flush.
func TestTryCheckPoint_JoinsRunningCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.flushStarted = make(chan struct{}, 1)
	h.flushRelease = make(chan struct{})

	forceResult := make(chan int64, 1)
	go func() {
		txID, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
		assert.NoError(t, err)
		forceResult <- txID
	}()
	<-h.flushStarted // A is inside flushAndForce

	joinResult := make(chan int64, 1)
	go func() {
		txID, err := h.cp.TryCheckPoint(ScheduledTrigger())
		assert.NoError(t, err)
		joinResult <- txID
	}()

	// B must not have flushed anything on its own.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), h.flushCalls.Load())

	close(h.flushRelease)

	assert.Equal(t, int64(42), <-forceResult)
	assert.Equal(t, int64(42), <-joinResult, "joiner returns the running checkpoint's tx id")
	assert.Equal(t, int32(1), h.flushCalls.Load(), "flush called exactly once total")
	assert.Equal(t, 1, h.appender.callCount(), "append called exactly once total")
	assert.Contains(t, h.logs.String(), "Check pointing was already running, completed now")
}

// TestTryCheckPointNoWait_Contended verifies the no-wait form returns
// immediately with NoTransactionID and calls no collaborator.
func TestTryCheckPointNoWait_Contended(t *testing.T) {
	h := newHarness(t)
	h.flushStarted = make(chan struct{}, 1)
	h.flushRelease = make(chan struct{})

	go h.cp.ForceCheckPoint(OperatorTrigger("admin"))
	<-h.flushStarted

	txID, err := h.cp.TryCheckPointNoWait(ScheduledTrigger())
	require.NoError(t, err)
	assert.Equal(t, NoTransactionID, txID)
	assert.Equal(t, int32(1), h.flushCalls.Load())
	assert.Equal(t, 0, h.appender.callCount())

	close(h.flushRelease)
}

// TestTryCheckPointUntil_TimeoutDuringJoin abandons the join wait once
// the predicate fires.
func TestTryCheckPointUntil_TimeoutDuringJoin(t *testing.T) {
	h := newHarness(t)
	h.flushStarted = make(chan struct{}, 1)
	h.flushRelease = make(chan struct{})

	go h.cp.ForceCheckPoint(OperatorTrigger("admin"))
	<-h.flushStarted

	var polls atomic.Int32
	txID, err := h.cp.TryCheckPointUntil(ScheduledTrigger(), func() bool {
		return polls.Add(1) >= 2
	})
	require.NoError(t, err)
	assert.Equal(t, NoTransactionID, txID)

	close(h.flushRelease)
}

// TestPanicBeforeFlush verifies a set latch aborts before any flush.
func TestPanicBeforeFlush(t *testing.T) {
	h := newHarness(t)
	h.panic.Raise(errors.New("store corrupted"))

	_, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store corrupted")

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, PanicBeforeFlush, panicErr.Stage)
	assert.True(t, IsPanicError(err))

	assert.Equal(t, int32(0), h.flushCalls.Load())
	assert.Equal(t, 0, h.appender.callCount())
	assert.Contains(t, h.logs.String(), "Checkpoint failed")
}

// TestPanicBetweenFlushAndAppend installs a panic that fires after the
// flush completes: the append must not happen and no state may change.
func TestPanicBetweenFlushAndAppend(t *testing.T) {
	h := newHarness(t)
	h.onFlush = func() { h.panic.Raise(errors.New("io lost")) }

	_, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
	require.Error(t, err)

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, PanicAfterFlush, panicErr.Stage)

	assert.Equal(t, int32(1), h.flushCalls.Load())
	assert.Equal(t, 0, h.appender.callCount(), "append not called")
	assert.Equal(t, 0, h.pruner.callCount(), "prune not called")
	assert.False(t, h.cp.LatestCheckPointInfo().Known(), "latest info unchanged")
	assert.Equal(t, 0, h.threshold.checkpointCount())
}

// TestFlushFailure verifies a failed flush stops the protocol cold.
func TestFlushFailure(t *testing.T) {
	h := newHarness(t)
	h.flushErr = errors.New("disk full")

	_, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
	require.Error(t, err)
	assert.Equal(t, 0, h.appender.callCount())
	assert.Equal(t, 0, h.pruner.callCount())
	assert.False(t, h.cp.LatestCheckPointInfo().Known())
	assert.Equal(t, 0, h.threshold.checkpointCount())
	assert.Contains(t, h.logs.String(), "Checkpoint failed")
}

// TestAppendFailure verifies a failed append leaves threshold, prune
// and publication untouched so the next trigger retries cleanly.
func TestAppendFailure(t *testing.T) {
	h := newHarness(t)
	h.appender.err = errors.New("log unwritable")

	_, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
	require.Error(t, err)
	assert.Equal(t, 0, h.pruner.callCount())
	assert.False(t, h.cp.LatestCheckPointInfo().Known())
	assert.Equal(t, 0, h.threshold.checkpointCount())

	// Next attempt succeeds once the appender recovers.
	h.appender.err = nil
	txID, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), txID)
}

// TestPruneFailure verifies prune failing after a successful append
// suppresses publication: the record is in the log and the next
// recovery will re-discover it, so stale latest info self-heals.
func TestPruneFailure(t *testing.T) {
	h := newHarness(t)
	h.pruner.err = errors.New("unlink failed")

	_, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
	require.Error(t, err)
	assert.Equal(t, 1, h.appender.callCount(), "append happened")
	assert.Equal(t, 1, h.threshold.checkpointCount(), "threshold updated after append")
	assert.False(t, h.cp.LatestCheckPointInfo().Known(), "publication suppressed")
}

// TestShutdown_RejectsLaterTriggers verifies shutdown is terminal.
func TestShutdown_RejectsLaterTriggers(t *testing.T) {
	h := newHarness(t)
	h.cp.Shutdown()

	for name, trigger := range map[string]func() (int64, error){
		"force":   func() (int64, error) { return h.cp.ForceCheckPoint(OperatorTrigger("admin")) },
		"try":     func() (int64, error) { return h.cp.TryCheckPoint(ScheduledTrigger()) },
		"no-wait": func() (int64, error) { return h.cp.TryCheckPointNoWait(ScheduledTrigger()) },
	} {
		txID, err := trigger()
		require.NoError(t, err, name)
		assert.Equal(t, NoTransactionID, txID, name)
	}
	assert.Equal(t, int32(0), h.flushCalls.Load())
	assert.Contains(t, h.logs.String(), "already shutdown check pointer")
}

// TestShutdown_WaitsForRunningCheckpoint latches a checkpoint open and
// verifies Shutdown blocks until it completes, after which the
// completed checkpoint is still published.
func TestShutdown_WaitsForRunningCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.flushStarted = make(chan struct{}, 1)
	h.flushRelease = make(chan struct{})

	forceResult := make(chan int64, 1)
	go func() {
		txID, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
		assert.NoError(t, err)
		forceResult <- txID
	}()
	<-h.flushStarted

	shutdownDone := make(chan struct{})
	go func() {
		h.cp.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned while checkpoint was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(h.flushRelease)
	<-shutdownDone

	assert.Equal(t, int64(42), <-forceResult)
	assert.Equal(t, uint64(42), h.cp.LatestCheckPointInfo().CommittedTx.ID, "in-flight checkpoint published normally")

	txID, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
	require.NoError(t, err)
	assert.Equal(t, NoTransactionID, txID)
	assert.Contains(t, h.logs.String(), "already shutdown check pointer")
}

// TestLatestInfo_MonotonicAcrossCheckpoints advances the tx-id store
// between checkpoints and verifies the published id never goes back.
func TestLatestInfo_MonotonicAcrossCheckpoints(t *testing.T) {
	h := newHarness(t)

	var published []uint64
	for _, id := range []uint64{42, 50, 51} {
		h.txs.mu.Lock()
		h.txs.last.TransactionID.ID = id
		h.txs.mu.Unlock()

		txID, err := h.cp.ForceCheckPoint(OperatorTrigger("admin"))
		require.NoError(t, err)
		require.Equal(t, int64(id), txID)
		published = append(published, h.cp.LatestCheckPointInfo().CommittedTx.ID)
	}
	assert.IsNonDecreasing(t, published)
}

// TestSingleCheckpointAtATime hammers the coordinator from many
// goroutines and verifies at most one flush+append pair ever runs
// concurrently.
func TestSingleCheckpointAtATime(t *testing.T) {
	h := newHarness(t)
	h.threshold.needed = true

	var inFlight, violations atomic.Int32
	h.onFlush = func() {
		if inFlight.Add(1) > 1 {
			violations.Add(1)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				var err error
				switch i % 4 {
				case 0:
					_, err = h.cp.ForceCheckPoint(OperatorTrigger("admin"))
				case 1:
					_, err = h.cp.TryCheckPoint(ScheduledTrigger())
				case 2:
					_, err = h.cp.TryCheckPointNoWait(ScheduledTrigger())
				default:
					_, err = h.cp.CheckPointIfNeeded(ScheduledTrigger())
				}
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), violations.Load(), "overlapping checkpoint executions detected")
}
