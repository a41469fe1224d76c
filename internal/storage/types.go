package storage

import "time"

// TransactionID identifies one committed transaction.
//
// ID is strictly monotonic across the life of the database. It is an
// identity, not a quantity: the only meaningful arithmetic on it is
// ordering. Checksum, CommitTimestamp and ConsensusIndex travel with
// the id so that a checkpoint record can reproduce the full commit
// entry during recovery.
type TransactionID struct {
	ID              uint64
	Checksum        uint64
	CommitTimestamp int64
	ConsensusIndex  int64
}

// LogPosition identifies a byte position in the append-only
// transaction log. Positions are totally ordered, log version first.
type LogPosition struct {
	LogVersion uint64
	ByteOffset uint64
}

// Compare returns -1, 0 or 1 ordering p against other lexicographically
// on (LogVersion, ByteOffset).
func (p LogPosition) Compare(other LogPosition) int {
	switch {
	case p.LogVersion < other.LogVersion:
		return -1
	case p.LogVersion > other.LogVersion:
		return 1
	case p.ByteOffset < other.ByteOffset:
		return -1
	case p.ByteOffset > other.ByteOffset:
		return 1
	default:
		return 0
	}
}

// KernelVersion tags the storage engine format. It travels in every
// checkpoint record so recovery can detect version drift between the
// binary that wrote the record and the binary reading it.
type KernelVersion uint8

// CurrentKernelVersion is the format this binary writes.
const CurrentKernelVersion KernelVersion = 1

// ClosedTransaction is the snapshot returned by the transaction-id
// store: the identity of the last closed transaction together with the
// log position its commit entry ends at.
type ClosedTransaction struct {
	TransactionID
	LogPosition LogPosition
}

// Clock supplies wall-clock time. Injected so tests can substitute a
// deterministic replacement.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
