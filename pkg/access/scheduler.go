package access

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs a task repeatedly at an interval until stopped. Resetting
// with a new interval replaces the running loop; resetting with the same
// interval is a no-op so a tick does not push its own deadline back.
type Scheduler struct {
	clock clockwork.Clock
	task  func()

	mu       sync.Mutex
	interval time.Duration
	done     chan struct{}
}

// NewScheduler creates a stopped scheduler
func NewScheduler(clock clockwork.Clock, task func()) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, task: task}
}

// Reset (re)arms the scheduler with interval d
func (s *Scheduler) Reset(d time.Duration) {
	if d <= 0 {
		s.Stop()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil && s.interval == d {
		return
	}
	s.stopLocked()

	done := make(chan struct{})
	s.done = done
	s.interval = d
	ticker := s.clock.NewTicker(d)
	go s.loop(ticker, done)
}

func (s *Scheduler) loop(ticker clockwork.Ticker, done chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.Chan():
			select {
			case <-done:
				return
			default:
			}
			s.task()
		}
	}
}

// Stop cancels the running loop. It does not wait for an in-flight task, so
// the task itself may call Stop or Reset.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.interval = 0
}

// Interval returns the armed interval, or false when stopped
func (s *Scheduler) Interval() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval, s.done != nil
}
