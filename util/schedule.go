package util

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// A Scheduler hands out cancellable one-shot timers. Both the job poller
// and the upload processing delay run off the same scheduler, so a test can
// substitute a mock clock and drive every timed transition by hand.
type Scheduler struct {
	clk clock.Clock
}

// NewScheduler returns a scheduler using the wall clock.
func NewScheduler() *Scheduler {
	return NewSchedulerWithClock(clock.New())
}

// NewSchedulerWithClock returns a scheduler using the given clock. Pass a
// clock.Mock to control time in tests.
func NewSchedulerWithClock(clk clock.Clock) *Scheduler {
	return &Scheduler{clk: clk}
}

// Now returns the scheduler's idea of the current time.
func (s *Scheduler) Now() time.Time {
	return s.clk.Now()
}

// Sleep pauses the calling goroutine for the duration d.
func (s *Scheduler) Sleep(d time.Duration) {
	s.clk.Sleep(d)
}

// After runs fn on its own goroutine once d has elapsed, unless the
// returned timer is stopped first.
func (s *Scheduler) After(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.inner = s.clk.AfterFunc(d, func() {
		t.m.Lock()
		stopped := t.stopped
		t.m.Unlock()
		if !stopped {
			fn()
		}
	})
	return t
}

// A Timer is a pending call scheduled by After.
type Timer struct {
	m       sync.Mutex
	inner   *clock.Timer
	stopped bool
}

// Stop cancels the pending call. It is safe to call more than once, and
// safe to call after the timer has fired; a fired timer's effect is not
// undone, but a concurrently firing fn that has not started yet is
// suppressed.
func (t *Timer) Stop() {
	t.m.Lock()
	t.stopped = true
	t.m.Unlock()
	t.inner.Stop()
}
