//go:build !linux

package gpio

import "errors"

// LineInput is not available on non-Linux platforms.
type LineInput struct{}

// NewLineInput returns an error on non-Linux platforms.
func NewLineInput(chipName string, pin int, activeLow bool) (*LineInput, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *LineInput) Read() (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *LineInput) Close() error {
	return nil
}
