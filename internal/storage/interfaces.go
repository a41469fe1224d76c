package storage

import (
	"time"

	"github.com/grovedb/grove/internal/tracing"
)

// TransactionIDStore is the monotonic commit clock. LastClosed returns
// a consistent snapshot of the most recently closed transaction; it
// must be cheap and lock-free, it is read on hot paths.
type TransactionIDStore interface {
	LastClosed() ClosedTransaction
}

// CheckpointAppender appends one checkpoint record to the transaction
// log and fsyncs the log tail before returning. The record carries the
// committed transaction identity, the engine format version, the log
// position recovery should resume from, the wall-clock instant and the
// human-readable trigger reason.
type CheckpointAppender interface {
	CheckPoint(event *tracing.CheckpointEvent, tx TransactionID, version KernelVersion, pos LogPosition, at time.Time, reason string) error
}

// LogPruner drops log segments whose version is strictly below the
// given one. Idempotent: pruning an already-pruned range is a no-op.
type LogPruner interface {
	PruneLogs(upToLogVersion uint64) error
}

// IOController exposes the pacing configuration of checkpoint I/O.
type IOController interface {
	Enabled() bool
	ConfiguredLimit() int64
}

// KernelVersionProvider reports the engine format version in effect.
type KernelVersionProvider interface {
	KernelVersion() KernelVersion
}

// StaticKernelVersion is a KernelVersionProvider pinned to one version.
type StaticKernelVersion KernelVersion

func (s StaticKernelVersion) KernelVersion() KernelVersion { return KernelVersion(s) }
