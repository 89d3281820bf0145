// Package adc provides analog sample reading with hardware abstraction.
package adc

import "errors"

// Reader returns raw analog-to-digital converter samples.
type Reader interface {
	// ReadRaw returns one raw sample in the range [0, FullScale(bits)].
	ReadRaw() (int, error)
}

var (
	// ErrNoSample is returned before the first sample has arrived.
	ErrNoSample = errors.New("adc: no sample received yet")
	// ErrClosed is returned after the reader was closed.
	ErrClosed = errors.New("adc: reader closed")
	// ErrStreamEnded is returned once the sample stream has stopped.
	ErrStreamEnded = errors.New("adc: sample stream ended")
)

// DefaultBits is the resolution of the ESP32 and RP2040 ADCs the sensors
// are usually wired to.
const DefaultBits = 12

// FullScale returns the largest raw value of a bits-wide converter,
// e.g. 4095 for 12 bits.
func FullScale(bits int) int {
	return (1 << bits) - 1
}

// Scale maps raw in [0, fullScale] linearly onto [min, max].
func Scale(raw, fullScale int, min, max float64) float64 {
	if fullScale <= 0 {
		return min
	}
	return float64(raw)/float64(fullScale)*(max-min) + min
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func() (int, error)

// ReadRaw calls f.
func (f ReaderFunc) ReadRaw() (int, error) {
	return f()
}
