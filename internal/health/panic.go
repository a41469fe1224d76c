// Package health holds the database panic latch: a one-way signal set
// by any subsystem that has detected fatal corruption or I/O loss.
// Readers abort their work rather than risk making the damage worse.
package health

import (
	"fmt"
	"sync"
)

// Panic is the latch. The zero value is usable and unset.
//
// Thread-safety: all methods are safe for concurrent use. Once set,
// the latch never clears; the first cause wins and later Raise calls
// are ignored.
type Panic struct {
	mu    sync.Mutex
	cause error
}

// Raise sets the latch with the given cause. The first call wins.
func (p *Panic) Raise(cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cause == nil {
		p.cause = cause
	}
}

// Cause returns the panic cause, or nil if the latch is unset.
func (p *Panic) Cause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}

// AssertNoPanic returns an error wrapping the cause if the latch is
// set, nil otherwise.
func (p *Panic) AssertNoPanic() error {
	if cause := p.Cause(); cause != nil {
		return fmt.Errorf("database has panicked: %w", cause)
	}
	return nil
}
