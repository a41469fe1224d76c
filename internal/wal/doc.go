// Package wal implements the file side of the transaction log that the
// checkpoint coordinator touches: an append-only segment log, the
// checkpoint record appender, and the segment pruner.
//
// Segments are named "wal-segment-<version>.log". The checkpoint
// appender writes to a dedicated "checkpoint.log" file in the same
// directory; its record format is private to this package.
package wal
