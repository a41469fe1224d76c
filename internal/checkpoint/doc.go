// Package checkpoint implements the checkpoint coordinator of the
// storage engine: the subsystem that periodically produces a durable,
// recoverable snapshot point in the transaction log, so that recovery
// after a crash only replays log entries written after the last
// successful checkpoint.
//
// The coordinator sits at the junction of three concurrent subsystems,
// the transaction-id store, the page cache, and the transaction log,
// and preserves a strict ordering between them:
//
//	flush dirty pages -> append checkpoint record -> prune log -> publish
//
// A single mutex serializes checkpoint execution. Forced checkpoints,
// threshold-triggered checkpoints and shutdown block on it; the
// try-checkpoint calls never start a second checkpoint behind a running
// one, they either give up or join it.
package checkpoint
