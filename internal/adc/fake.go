package adc

import "sync"

// FakeReader is a test double that returns scripted samples.
// Each call to ReadRaw consumes the next value; the last value repeats once
// the script is exhausted. Safe for concurrent use.
type FakeReader struct {
	mu     sync.Mutex
	values []int
	index  int
	reads  int
	err    error
	// failAt makes the read with this 1-based index fail with err.
	failAt int
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(values ...int) *FakeReader {
	return &FakeReader{values: values}
}

// ReadRaw returns the next scripted sample.
func (f *FakeReader) ReadRaw() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.err != nil && (f.failAt == 0 || f.failAt == f.reads) {
		return 0, f.err
	}
	if len(f.values) == 0 {
		return 0, ErrNoSample
	}

	v := f.values[f.index]
	if f.index < len(f.values)-1 {
		f.index++
	}
	return v, nil
}

// Set replaces the script with a single repeating value.
func (f *FakeReader) Set(v int) {
	f.mu.Lock()
	f.values = []int{v}
	f.index = 0
	f.mu.Unlock()
}

// SetError makes every read fail with err (nil clears it).
func (f *FakeReader) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.failAt = 0
	f.mu.Unlock()
}

// FailAt makes only the n-th read (counting from the first ever read) fail.
func (f *FakeReader) FailAt(n int, err error) {
	f.mu.Lock()
	f.err = err
	f.failAt = n
	f.mu.Unlock()
}

// Reads returns how many times ReadRaw was called.
func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}
