package timer

import (
	"sync"
	"time"
)

// Fake is a Scheduler for tests. Nothing runs in the background; Fire runs
// the scheduled callback synchronously.
type Fake struct {
	mu      sync.Mutex
	fn      func()
	period  time.Duration
	running bool

	// Scheduled counts successful Schedule calls.
	Scheduled int
	// Cancelled counts Cancel calls that stopped a running callback.
	Cancelled int

	// ScheduleErr, if set, is returned by Schedule.
	ScheduleErr error
	// FailAfter makes Schedule fail with ScheduleErr only once this many
	// calls have succeeded. Zero means every call fails while ScheduleErr is set.
	FailAfter int
}

// NewFake creates an idle Fake.
func NewFake() *Fake {
	return &Fake{}
}

// Schedule records fn and period.
func (f *Fake) Schedule(period time.Duration, fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ScheduleErr != nil && f.Scheduled >= f.FailAfter {
		return f.ScheduleErr
	}
	if f.running {
		return ErrRunning
	}
	if period <= 0 {
		return ErrPeriod
	}
	f.fn = fn
	f.period = period
	f.running = true
	f.Scheduled++
	return nil
}

// Cancel stops the callback.
func (f *Fake) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.Cancelled++
	}
	f.running = false
}

// Fire runs the callback n times if it is scheduled. It reports whether
// anything ran.
func (f *Fake) Fire(n int) bool {
	f.mu.Lock()
	fn, running := f.fn, f.running
	f.mu.Unlock()

	if !running || fn == nil {
		return false
	}
	for i := 0; i < n; i++ {
		fn()
	}
	return true
}

// Running reports whether a callback is scheduled.
func (f *Fake) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Period returns the period of the last successful Schedule call.
func (f *Fake) Period() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.period
}
