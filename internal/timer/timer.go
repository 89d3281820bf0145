// Package timer provides the periodic callback source that drives sampling
// in the background.
package timer

import (
	"errors"
	"sync"
	"time"
)

// Scheduler runs one callback periodically until cancelled.
type Scheduler interface {
	// Schedule starts calling fn every period.
	Schedule(period time.Duration, fn func()) error

	// Cancel stops the callback. It is a no-op when nothing is scheduled.
	Cancel()
}

var (
	// ErrRunning is returned when Schedule is called twice without Cancel.
	ErrRunning = errors.New("timer: already scheduled")
	// ErrPeriod is returned for a non-positive period.
	ErrPeriod = errors.New("timer: period must be positive")
)

// Ticker is a Scheduler backed by time.Ticker. The callback runs on a single
// goroutine, so invocations never overlap.
type Ticker struct {
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewTicker creates an idle Ticker.
func NewTicker() *Ticker {
	return &Ticker{}
}

// Schedule starts a goroutine calling fn every period.
func (t *Ticker) Schedule(period time.Duration, fn func()) error {
	if period <= 0 {
		return ErrPeriod
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return ErrRunning
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	go func() {
		defer close(done)
		tk := time.NewTicker(period)
		defer tk.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tk.C:
				fn()
			}
		}
	}()
	return nil
}

// Cancel stops the goroutine and waits for an in-flight callback to return.
// It must not be called from inside the callback.
func (t *Ticker) Cancel() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Running reports whether a callback is scheduled.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}
