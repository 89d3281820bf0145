// Package button turns a bouncing mechanical switch into a stable level and
// discrete click events. It is poll driven: callers invoke IsPressed or
// IsClicked from their own loop; nothing here sleeps or blocks.
package button

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/sensor-kit/internal/clock"
	"github.com/sweeney/sensor-kit/internal/gpio"
)

// Defaults for a typical tactile switch.
const (
	DefaultDebounce         = 10 * time.Millisecond
	DefaultMinClickInterval = 50 * time.Millisecond
)

var (
	// ErrNilInput is returned when no input line is given.
	ErrNilInput = errors.New("button: input is nil")
	// ErrNilClock is returned when no clock is given.
	ErrNilClock = errors.New("button: clock is nil")
	// ErrInvalidConfig wraps out-of-range configuration values.
	ErrInvalidConfig = errors.New("button: invalid config")
)

// Config holds the timing parameters of a Button.
type Config struct {
	// Debounce is how long the raw level must hold before it becomes stable.
	Debounce time.Duration
	// MinClickInterval suppresses clicks closer together than this.
	MinClickInterval time.Duration
}

// DefaultConfig returns the timing used when none is configured.
func DefaultConfig() Config {
	return Config{
		Debounce:         DefaultDebounce,
		MinClickInterval: DefaultMinClickInterval,
	}
}

// Button debounces a digital input.
//
// The stable level changes at most once per debounce window no matter how
// often the raw level toggles inside it.
type Button struct {
	in  gpio.Input
	clk clock.Clock

	debounceMs         int64
	minClickIntervalMs int64

	// Last observed raw level and when it last flipped.
	raw          bool
	lastChangeMs int64

	stable         bool
	previousStable bool

	lastClickMs int64
	clicked     bool

	readErrors int
}

// New creates a Button reading from in. The current level is read once and
// taken as the initial stable level.
func New(in gpio.Input, clk clock.Clock, cfg Config) (*Button, error) {
	if in == nil {
		return nil, ErrNilInput
	}
	if clk == nil {
		return nil, ErrNilClock
	}
	if cfg.Debounce < 0 {
		return nil, fmt.Errorf("%w: negative debounce %v", ErrInvalidConfig, cfg.Debounce)
	}
	if cfg.MinClickInterval < 0 {
		return nil, fmt.Errorf("%w: negative click interval %v", ErrInvalidConfig, cfg.MinClickInterval)
	}

	level, err := in.Read()
	if err != nil {
		return nil, fmt.Errorf("button: initial read: %w", err)
	}

	return &Button{
		in:                 in,
		clk:                clk,
		debounceMs:         cfg.Debounce.Milliseconds(),
		minClickIntervalMs: cfg.MinClickInterval.Milliseconds(),
		raw:                level,
		lastChangeMs:       clk.NowMillis(),
		stable:             level,
		previousStable:     level,
	}, nil
}

// IsPressed returns the debounced level.
func (b *Button) IsPressed() bool {
	b.poll(b.clk.NowMillis())
	return b.stable
}

// IsClicked reports a release (stable high to stable low) using the
// configured minimum click interval.
func (b *Button) IsClicked() bool {
	return b.isClicked(b.minClickIntervalMs)
}

// IsClickedWithin is IsClicked with an explicit minimum click interval.
func (b *Button) IsClickedWithin(minInterval time.Duration) bool {
	return b.isClicked(minInterval.Milliseconds())
}

// ReadErrors returns how many polls failed to read the input.
func (b *Button) ReadErrors() int {
	return b.readErrors
}

// Close releases the input line.
func (b *Button) Close() error {
	return b.in.Close()
}

func (b *Button) isClicked(minIntervalMs int64) bool {
	now := b.clk.NowMillis()
	current := b.poll(now)
	prev := b.previousStable

	// Only remember a level as "previous" once it has survived the window.
	if b.settled(now) {
		b.previousStable = current
	}

	if !prev || current {
		return false
	}
	if b.clicked && now-b.lastClickMs <= minIntervalMs {
		return false
	}
	b.lastClickMs = now
	b.clicked = true
	return true
}

// poll samples the input and commits the raw level once it has held for
// longer than the debounce window. A failed read counts as no change.
func (b *Button) poll(now int64) bool {
	level, err := b.in.Read()
	if err != nil {
		b.readErrors++
		level = b.raw
	}

	if level != b.raw {
		b.lastChangeMs = now
		b.raw = level
	}

	if b.settled(now) {
		b.stable = b.raw
	}
	return b.stable
}

func (b *Button) settled(now int64) bool {
	return now-b.lastChangeMs > b.debounceMs
}
