// Package gpio provides digital input reading with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Input reads a single digital input line.
type Input interface {
	// Read returns the logical level of the line (true = high/active).
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Defaults for the button wiring (BCM numbering).
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 4
)
