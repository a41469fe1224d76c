package checkpoint

import (
	"sync"
	"time"
)

// DefaultLockPollInterval is how often TryLockUntil re-checks its
// timeout predicate while waiting for the mutex.
const DefaultLockPollInterval = 10 * time.Millisecond

// Mutex is the single-holder lock serializing checkpoint execution.
//
// Three acquisition modes exist because the callers have different
// patience: forced checkpoints, threshold-triggered checkpoints and
// shutdown wait (Lock); the try-checkpoint calls first attempt without
// waiting (TryLock) and, when contended, wait to join the running
// checkpoint only as long as their timeout predicate allows
// (TryLockUntil).
//
// When a Guard exists, no other Guard from any of the three acquirers
// exists.
type Mutex struct {
	ch   chan struct{}
	poll time.Duration
}

// NewMutex creates an unlocked mutex.
func NewMutex() *Mutex {
	return &Mutex{ch: make(chan struct{}, 1), poll: DefaultLockPollInterval}
}

// Lock blocks until the mutex is acquired.
func (m *Mutex) Lock() *Guard {
	m.ch <- struct{}{}
	return &Guard{m: m}
}

// TryLock acquires the mutex only if it is free right now. Returns nil
// when the mutex is held.
func (m *Mutex) TryLock() *Guard {
	select {
	case m.ch <- struct{}{}:
		return &Guard{m: m}
	default:
		return nil
	}
}

// TryLockUntil waits for the mutex, polling the timeout predicate.
// Returns a guard as soon as the mutex is acquired, or nil once the
// predicate reports true first. The predicate cancels only the wait,
// never an acquisition already made.
func (m *Mutex) TryLockUntil(timeout func() bool) *Guard {
	for {
		select {
		case m.ch <- struct{}{}:
			return &Guard{m: m}
		default:
		}
		if timeout() {
			return nil
		}
		timer := time.NewTimer(m.poll)
		select {
		case m.ch <- struct{}{}:
			timer.Stop()
			return &Guard{m: m}
		case <-timer.C:
		}
	}
}

// Guard is a scoped hold of the mutex. Release is idempotent so it can
// sit in a defer on every exit path of the holding scope.
type Guard struct {
	m    *Mutex
	once sync.Once
}

// Release unlocks the mutex. Safe to call more than once.
func (g *Guard) Release() {
	g.once.Do(func() { <-g.m.ch })
}
