package checkpoint

import (
	"sync"

	"github.com/grovedb/grove/internal/storage"
)

// Threshold decides whether an opportunistic checkpoint is warranted.
//
// Initialize is called exactly once before any IsNeeded call.
// OnCheckpoint is called with the checkpoint mutex held, after a
// successful log append. IsNeeded is cheap and safe to call without
// the mutex. Forced triggers bypass IsNeeded entirely.
type Threshold interface {
	Initialize(txID uint64, pos storage.LogPosition)
	IsNeeded(txID uint64, pos storage.LogPosition, info TriggerInfo) bool
	OnCheckpoint(txID uint64, pos storage.LogPosition)
}

// Default policy knobs.
const (
	DefaultEveryTransactions uint64 = 100_000
	DefaultEveryBytes        uint64 = 256 << 20
)

// policyThreshold combines a transactions-since-last criterion with a
// bytes-since-last criterion. Either one firing makes a checkpoint
// needed. A zero criterion is disabled.
type policyThreshold struct {
	everyTx    uint64
	everyBytes uint64

	mu       sync.Mutex
	lastTxID uint64
	lastPos  storage.LogPosition
}

// NewThreshold creates the standard count-or-volume policy. Passing
// zero for a criterion disables it; passing zero for both yields a
// policy that never fires.
func NewThreshold(everyTransactions, everyBytes uint64) Threshold {
	return &policyThreshold{everyTx: everyTransactions, everyBytes: everyBytes}
}

func (t *policyThreshold) Initialize(txID uint64, pos storage.LogPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastTxID = txID
	t.lastPos = pos
}

func (t *policyThreshold) IsNeeded(txID uint64, pos storage.LogPosition, _ TriggerInfo) bool {
	t.mu.Lock()
	lastTxID, lastPos := t.lastTxID, t.lastPos
	t.mu.Unlock()

	if t.everyTx > 0 && txID >= lastTxID+t.everyTx {
		return true
	}
	if t.everyBytes > 0 {
		// A rotated log makes the exact byte distance unknowable from
		// positions alone; treat any version advance as past the limit.
		if pos.LogVersion != lastPos.LogVersion {
			return true
		}
		if pos.ByteOffset-lastPos.ByteOffset >= t.everyBytes {
			return true
		}
	}
	return false
}

func (t *policyThreshold) OnCheckpoint(txID uint64, pos storage.LogPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastTxID = txID
	t.lastPos = pos
}
