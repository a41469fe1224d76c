package checkpoint

import "github.com/grovedb/grove/internal/storage"

// LatestCheckpointInfo is the published result of the last successful
// checkpoint: the transaction it covered and the engine format version
// that wrote the record.
//
// The coordinator writes it only at the very end of a successful
// checkpoint; other subsystems read it freely through
// CheckPointer.LatestCheckPointInfo.
type LatestCheckpointInfo struct {
	CommittedTx   storage.TransactionID
	KernelVersion storage.KernelVersion
}

// UnknownCheckpointInfo is the sentinel in effect before the first
// successful checkpoint.
var UnknownCheckpointInfo = LatestCheckpointInfo{}

// Known reports whether this value is a real checkpoint result rather
// than the sentinel.
func (i LatestCheckpointInfo) Known() bool {
	return i != UnknownCheckpointInfo
}
