package gpio

import (
	"errors"
	"sync"
)

// FakeInput is a test double for a digital input line.
//
// If Levels is non-empty each Read consumes the next scripted level and the
// last one repeats once exhausted. Otherwise Read returns the level set with
// Set. Safe for concurrent use.
type FakeInput struct {
	mu sync.Mutex

	// Levels contains scripted levels to return.
	Levels []bool

	index int
	level bool
	reads int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeInput creates a FakeInput reporting the given level.
func NewFakeInput(level bool) *FakeInput {
	return &FakeInput{level: level}
}

// NewScriptedInput creates a FakeInput that replays levels.
func NewScriptedInput(levels []bool) *FakeInput {
	return &FakeInput{Levels: levels}
}

// Set changes the level returned by unscripted reads.
func (f *FakeInput) Set(level bool) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

// SetError makes subsequent reads fail with err (nil clears it).
func (f *FakeInput) SetError(err error) {
	f.mu.Lock()
	f.ReadError = err
	f.mu.Unlock()
}

// Read returns the current or next scripted level.
func (f *FakeInput) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if f.Closed {
		return false, errors.New("gpio: input closed")
	}

	if len(f.Levels) == 0 {
		return f.level, nil
	}

	level := f.Levels[f.index]
	if f.index < len(f.Levels)-1 {
		f.index++
	}
	return level, nil
}

// Reads returns how many times Read was called.
func (f *FakeInput) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Close marks the input as closed.
func (f *FakeInput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset rewinds the script and reopens the input.
func (f *FakeInput) Reset() {
	f.mu.Lock()
	f.index = 0
	f.reads = 0
	f.Closed = false
	f.mu.Unlock()
}
