// Package tracing provides the lightweight event counters the storage
// engine threads through its I/O paths: checkpoint events, database
// flush events, and tagged cursor contexts.
//
// Events are plain counter carriers, not spans. The page cache
// increments them as it flushes; the checkpoint
// coordinator reads them afterwards to build the operator-visible
// completion line.
package tracing
