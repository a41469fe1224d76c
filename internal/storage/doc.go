// Package storage defines the value types and contracts shared between
// the storage engine subsystems: transaction identities, log positions,
// the engine format version, and the interfaces the checkpoint
// coordinator consumes (transaction-id store, checkpoint appender, log
// pruner, IO controller).
//
// Everything here is either a plain value object or an interface.
// Implementations live in their own packages (txid, wal, pagecache,
// iocontrol) so that the checkpoint package depends only on contracts.
package storage
