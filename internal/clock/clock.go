// Package clock provides the monotonic millisecond clock used by the input
// drivers. Drivers never call time.Now directly so tests can step time.
package clock

import (
	"sync"
	"time"
)

// Clock reads a monotonic millisecond counter and sleeps.
type Clock interface {
	// NowMillis returns milliseconds since an arbitrary fixed origin.
	NowMillis() int64

	// Sleep blocks for d.
	Sleep(d time.Duration)
}

type systemClock struct {
	origin time.Time
}

// System returns a Clock backed by the runtime's monotonic clock.
// The origin is the moment System is called.
func System() Clock {
	return &systemClock{origin: time.Now()}
}

func (c *systemClock) NowMillis() int64 {
	return time.Since(c.origin).Milliseconds()
}

func (c *systemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Fake is a manually advanced clock. Sleep advances the clock instead of
// blocking. Safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now int64
}

// NewFake creates a Fake starting at the given millisecond value.
func NewFake(startMs int64) *Fake {
	return &Fake{now: startMs}
}

// NowMillis returns the current fake time.
func (f *Fake) NowMillis() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the fake time by d, truncated to whole milliseconds.
func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
}

// Advance moves the fake time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now += d.Milliseconds()
	f.mu.Unlock()
}

// Set jumps the fake time to ms.
func (f *Fake) Set(ms int64) {
	f.mu.Lock()
	f.now = ms
	f.mu.Unlock()
}
