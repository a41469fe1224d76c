package checkpoint

import (
	"errors"
	"fmt"
)

// PanicError reports a checkpoint aborted because the database panic
// latch was set. The coordinator checks the latch at two points, and
// Stage records which one fired.
//
// Aborting on either check is safe: before the flush nothing has
// happened yet, and after the flush no checkpoint record exists, so
// the next recovery replays from the previous checkpoint.
type PanicError struct {
	// Stage identifies which latch check aborted the checkpoint.
	Stage PanicStage

	// Cause is the panic the latch carries.
	Cause error
}

// PanicStage categorizes where in the checkpoint protocol the latch
// was observed.
type PanicStage string

const (
	// PanicBeforeFlush means the latch was already set on entry, so
	// no flush was started.
	PanicBeforeFlush PanicStage = "before flush"

	// PanicAfterFlush means the latch fired during the flush, so the
	// checkpoint record was not written.
	PanicAfterFlush PanicStage = "after flush"
)

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("checkpoint aborted %s: %v", e.Stage, e.Cause)
}

// Unwrap exposes the panic cause to errors.Is / errors.As.
func (e *PanicError) Unwrap() error { return e.Cause }

// IsPanicError returns true if the error is a panic-latch abort.
// Uses errors.As to handle wrapped errors.
func IsPanicError(err error) bool {
	var pe *PanicError
	return errors.As(err, &pe)
}
