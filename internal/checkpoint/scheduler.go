package checkpoint

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler periodically asks the coordinator for an opportunistic
// checkpoint. It is the background trigger thread of the engine: a
// failed attempt is logged and the next tick simply tries again, no
// retry state is kept here.
type Scheduler struct {
	checkPointer *CheckPointer
	interval     time.Duration
	log          *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(cp *CheckPointer, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		checkPointer: cp,
		interval:     interval,
		log:          log,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() { go s.run() })
}

// Stop terminates the loop and waits for it to exit. Before exiting,
// the loop takes one final forced checkpoint with the shutdown
// trigger, so work accumulated since the last tick is durable before
// the coordinator latches shut. An in-flight checkpoint attempt
// completes before Stop returns.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.checkPointer.CheckPointIfNeeded(ScheduledTrigger()); err != nil {
				s.log.Error("scheduled checkpoint failed", "error", err)
			}
		case <-s.stop:
			if _, err := s.checkPointer.ForceCheckPoint(ShutdownTrigger()); err != nil {
				s.log.Error("shutdown checkpoint failed", "error", err)
			}
			return
		}
	}
}
