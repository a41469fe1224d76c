// Package iocontrol paces background I/O so that checkpoint flushes do
// not starve foreground transaction work.
package iocontrol

import (
	"time"

	"github.com/grovedb/grove/internal/tracing"
)

// Unlimited disables pacing.
const Unlimited int64 = -1

// Controller limits background flushes to a configured number of I/O
// operations per second. A nil-equivalent controller (disabled, or a
// negative limit) never pauses.
//
// Thread-safety: a Controller is used by one flush at a time (the
// checkpoint mutex serializes flushes), so no internal locking is
// needed beyond plain fields.
type Controller struct {
	enabled bool
	limit   int64 // IOs per second; <= 0 means unlimited

	window   time.Time
	iosInWin int64
	sleep    func(time.Duration) // indirection for tests
	now      func() time.Time
}

// NewController creates a pacing controller. A non-positive limit
// produces an enabled-but-unlimited controller.
func NewController(enabled bool, limit int64) *Controller {
	return &Controller{
		enabled: enabled,
		limit:   limit,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// Enabled reports whether pacing is switched on at all.
func (c *Controller) Enabled() bool { return c.enabled }

// ConfiguredLimit returns the configured IOs-per-second limit.
// Negative means unlimited.
func (c *Controller) ConfiguredLimit() int64 { return c.limit }

// MaybePause accounts n I/O operations against the current one-second
// window and sleeps out the remainder of the window once the limit is
// exhausted. Pauses are reported to the flush event.
func (c *Controller) MaybePause(n int64, flush *tracing.FlushEvent) {
	if !c.enabled || c.limit <= 0 {
		return
	}
	now := c.now()
	if c.window.IsZero() || now.Sub(c.window) >= time.Second {
		c.window = now
		c.iosInWin = 0
	}
	c.iosInWin += n
	if c.iosInWin < c.limit {
		return
	}
	remaining := time.Second - now.Sub(c.window)
	if remaining > 0 {
		c.sleep(remaining)
		if flush != nil {
			flush.Paused(remaining)
		}
	}
	c.window = c.now()
	c.iosInWin = 0
}
