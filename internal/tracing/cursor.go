package tracing

import (
	"fmt"

	"github.com/google/uuid"
)

// CursorContext tags a unit of page-cache work so that traces and
// version barriers can be attributed to the operation that caused
// them.
type CursorContext struct {
	tag     string
	version VersionContext
}

// Tag returns the context tag, e.g. "checkpoint-<uuid>".
func (c *CursorContext) Tag() string { return c.tag }

// VersionContext returns the write barrier attached to this context.
func (c *CursorContext) VersionContext() *VersionContext { return &c.version }

// Close releases the context. Contexts are cheap value carriers, so
// this only exists to keep acquisition scoped.
func (c *CursorContext) Close() {}

// VersionContext carries the read-consistency write barrier of a
// cursor context. InitWrite pins the highest transaction id whose
// effects the operation is allowed to observe.
type VersionContext struct {
	writeTxID uint64
}

// InitWrite initializes the barrier with the given transaction id.
func (v *VersionContext) InitWrite(txID uint64) { v.writeTxID = txID }

// WriteTxID returns the pinned transaction id, zero if uninitialized.
func (v *VersionContext) WriteTxID() uint64 { return v.writeTxID }

// CursorContextFactory produces tagged cursor contexts. Each context
// gets a unique suffix so concurrent operations with the same tag stay
// distinguishable in traces.
type CursorContextFactory struct{}

// NewCursorContextFactory creates a factory.
func NewCursorContextFactory() *CursorContextFactory {
	return &CursorContextFactory{}
}

// Create produces a context tagged "<tag>-<uuid>".
func (f *CursorContextFactory) Create(tag string) *CursorContext {
	return &CursorContext{tag: fmt.Sprintf("%s-%s", tag, uuid.NewString())}
}
