// Package mic reads an analog sound sensor. It keeps a fixed-size moving
// average of the signal with O(1) updates and flags upward spikes against
// that average, optionally using a calibrated noise floor.
package mic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/sweeney/sensor-kit/internal/adc"
	"github.com/sweeney/sensor-kit/internal/clock"
	"github.com/sweeney/sensor-kit/internal/timer"
)

// Mode selects how the average is maintained.
type Mode int

const (
	// ModePush samples in the background; Average returns the last computed
	// value without touching the ADC. Reads are cheap but up to one period stale.
	ModePush Mode = iota
	// ModePull reads SampleCount fresh samples on every Average call.
	// Reads are fresh but block for the duration of the reads.
	ModePull
)

func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModePull:
		return "pull"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "push" or "pull".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "push", "":
		return ModePush, nil
	case "pull":
		return ModePull, nil
	}
	return 0, fmt.Errorf("mic: unknown mode %q", s)
}

// Defaults matching a 12-bit ADC sampled at 50 Hz.
const (
	DefaultSampleCount         = 50
	DefaultPeakThreshold       = 0.15
	DefaultPeriod              = 20 * time.Millisecond
	DefaultCalibrationInterval = 10 * time.Millisecond
)

var (
	// ErrNilReader is returned when no ADC reader is given.
	ErrNilReader = errors.New("mic: reader is nil")
	// ErrNilClock is returned when no clock is given.
	ErrNilClock = errors.New("mic: clock is nil")
	// ErrNilScheduler is returned in push mode without a scheduler.
	ErrNilScheduler = errors.New("mic: push mode requires a scheduler")
	// ErrInvalidConfig wraps out-of-range configuration values.
	ErrInvalidConfig = errors.New("mic: invalid config")
	// ErrNoSamples is returned when calibration collected nothing.
	ErrNoSamples = errors.New("mic: no calibration samples collected")
)

// Config holds the averaging and detection parameters.
type Config struct {
	Mode Mode
	// SampleCount is the moving-average window size N.
	SampleCount int
	// Bits is the ADC resolution; full scale is 2^Bits-1.
	Bits int
	// PeakThreshold is the uncalibrated spike threshold as a fraction of full scale.
	PeakThreshold float64
	// Period is the background sampling period in push mode.
	Period time.Duration
	// CalibrationInterval is the spacing of calibration samples.
	CalibrationInterval time.Duration
	// Min and Max are the range Value maps the average onto.
	Min, Max float64
}

// DefaultConfig returns a push-mode configuration for a 12-bit ADC.
func DefaultConfig() Config {
	return Config{
		Mode:                ModePush,
		SampleCount:         DefaultSampleCount,
		Bits:                adc.DefaultBits,
		PeakThreshold:       DefaultPeakThreshold,
		Period:              DefaultPeriod,
		CalibrationInterval: DefaultCalibrationInterval,
		Min:                 0,
		Max:                 100,
	}
}

func (c Config) validate() error {
	switch {
	case c.Mode != ModePush && c.Mode != ModePull:
		return fmt.Errorf("%w: mode %v", ErrInvalidConfig, c.Mode)
	case c.SampleCount < 1:
		return fmt.Errorf("%w: sample count %d", ErrInvalidConfig, c.SampleCount)
	case c.Bits < 1 || c.Bits > 16:
		return fmt.Errorf("%w: adc bits %d", ErrInvalidConfig, c.Bits)
	case c.PeakThreshold < 0:
		return fmt.Errorf("%w: peak threshold %v", ErrInvalidConfig, c.PeakThreshold)
	case c.Mode == ModePush && c.Period <= 0:
		return fmt.Errorf("%w: sampling period %v", ErrInvalidConfig, c.Period)
	case c.CalibrationInterval <= 0:
		return fmt.Errorf("%w: calibration interval %v", ErrInvalidConfig, c.CalibrationInterval)
	}
	return nil
}

// Calibration is the noise model measured by Calibrate.
type Calibration struct {
	NoiseFloor       float64
	NoiseStdDev      float64
	DynamicThreshold float64
	Samples          int
}

// Averager is a streaming moving average over an ADC with peak detection.
// It is safe for concurrent use; the background sampler and callers share
// one mutex.
type Averager struct {
	reader adc.Reader
	clk    clock.Clock
	sched  timer.Scheduler
	cfg    Config

	fullScale int

	// calMu serialises calibration passes. It is never held together with
	// mu while the scheduler is cancelled, since the sampler takes mu.
	calMu sync.Mutex

	mu            sync.Mutex
	window        []int
	total         int
	index         int
	latest        int
	cal           *Calibration
	driverRunning bool
	closed        bool
	readErrors    int
	readFailing   bool
}

// New creates an Averager. In push mode one sample is read and replicated
// across the whole window, so the average starts at the current level, and
// sampling is scheduled every cfg.Period.
func New(reader adc.Reader, clk clock.Clock, sched timer.Scheduler, cfg Config) (*Averager, error) {
	if reader == nil {
		return nil, ErrNilReader
	}
	if clk == nil {
		return nil, ErrNilClock
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == ModePush && sched == nil {
		return nil, ErrNilScheduler
	}

	a := &Averager{
		reader:    reader,
		clk:       clk,
		sched:     sched,
		cfg:       cfg,
		fullScale: adc.FullScale(cfg.Bits),
	}

	if cfg.Mode == ModePull {
		return a, nil
	}

	initial, err := reader.ReadRaw()
	if err != nil {
		return nil, fmt.Errorf("mic: initial read: %w", err)
	}
	a.window = make([]int, cfg.SampleCount)
	for i := range a.window {
		a.window[i] = initial
	}
	a.total = initial * cfg.SampleCount
	a.latest = initial

	if err := sched.Schedule(cfg.Period, a.tick); err != nil {
		return nil, fmt.Errorf("mic: start sampler: %w", err)
	}
	a.driverRunning = true
	return a, nil
}

// Mode returns the operating mode.
func (a *Averager) Mode() Mode {
	return a.cfg.Mode
}

// FullScale returns the largest raw ADC value.
func (a *Averager) FullScale() int {
	return a.fullScale
}

// Sample inserts raw into the window in O(1). It has no effect in pull mode,
// which keeps no window.
func (a *Averager) Sample(raw int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.insert(raw)
}

func (a *Averager) insert(raw int) {
	if a.window == nil {
		return
	}
	a.total += raw - a.window[a.index]
	a.window[a.index] = raw
	a.index = (a.index + 1) % len(a.window)
	a.latest = a.total / len(a.window)
}

// tick is the background sampler callback.
func (a *Averager) tick() {
	raw, err := a.reader.ReadRaw()

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.readErrors++
		if !a.readFailing {
			log.Printf("mic: sample read error: %v", err)
			a.readFailing = true
		}
		return
	}
	if a.readFailing {
		log.Printf("mic: sample reads recovered after %d errors", a.readErrors)
		a.readFailing = false
	}
	a.insert(raw)
}

// ReadRaw returns one raw ADC sample.
func (a *Averager) ReadRaw() (int, error) {
	raw, err := a.reader.ReadRaw()
	if err != nil {
		return 0, fmt.Errorf("mic: read sample: %w", err)
	}
	return raw, nil
}

// Average returns the moving average, truncated toward zero.
// In push mode it is the last value computed by the sampler and never
// fails. In pull mode SampleCount fresh samples are read and averaged.
func (a *Averager) Average() (int, error) {
	if a.cfg.Mode == ModePush {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.latest, nil
	}

	total := 0
	for i := 0; i < a.cfg.SampleCount; i++ {
		raw, err := a.reader.ReadRaw()
		if err != nil {
			return 0, fmt.Errorf("mic: read sample %d: %w", i, err)
		}
		total += raw
	}
	return total / a.cfg.SampleCount, nil
}

// Percent returns the average as a percentage of full scale, rounded to one
// decimal place.
func (a *Averager) Percent() (float32, error) {
	avg, err := a.Average()
	if err != nil {
		return 0, err
	}
	p := float32(avg) / float32(a.fullScale) * 100
	return math32.Round(p*10) / 10, nil
}

// Value returns the average mapped linearly onto [Min, Max].
func (a *Averager) Value() (float64, error) {
	avg, err := a.Average()
	if err != nil {
		return 0, err
	}
	return adc.Scale(avg, a.fullScale, a.cfg.Min, a.cfg.Max), nil
}

// ValueInt returns Value truncated to an integer.
func (a *Averager) ValueInt() (int, error) {
	v, err := a.Value()
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// PeakDetected compares one fresh sample against the average. Only upward
// spikes count. With a calibration the spike must exceed the dynamic
// threshold; otherwise PeakThreshold of full scale.
func (a *Averager) PeakDetected() (bool, error) {
	peak, _, err := a.Detect()
	return peak, err
}

// Detect is PeakDetected that also returns the average the sample was
// judged against.
func (a *Averager) Detect() (peak bool, avg int, err error) {
	raw, err := a.ReadRaw()
	if err != nil {
		return false, 0, err
	}
	avg, err = a.Average()
	if err != nil {
		return false, 0, err
	}
	return float64(raw-avg) > a.Threshold(), avg, nil
}

// Threshold returns the spike threshold currently in effect.
func (a *Averager) Threshold() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cal != nil {
		return a.cal.DynamicThreshold
	}
	return a.cfg.PeakThreshold * float64(a.fullScale)
}

// Calibrate measures the noise floor for duration. Samples are taken every
// CalibrationInterval on the calling goroutine; in push mode the background
// sampler is paused meanwhile so it cannot race the measurement.
//
// On a read error, an empty measurement or cancellation the previous
// calibration is kept and false is returned. Failing to restart the sampler
// afterwards is logged but does not fail the calibration; see DriverRunning.
func (a *Averager) Calibrate(ctx context.Context, duration time.Duration) bool {
	a.calMu.Lock()
	defer a.calMu.Unlock()

	log.Printf("mic: calibrating noise floor for %v", duration)

	if a.pauseDriver() {
		defer a.resumeDriver()
	}

	samples, err := a.collect(ctx, duration)
	if err != nil {
		log.Printf("mic: calibration failed: %v", err)
		return false
	}

	cal := computeCalibration(samples)
	a.mu.Lock()
	a.cal = &cal
	a.mu.Unlock()

	log.Printf("mic: calibrated: noise_floor=%.2f stddev=%.2f threshold=%.2f samples=%d",
		cal.NoiseFloor, cal.NoiseStdDev, cal.DynamicThreshold, cal.Samples)
	return true
}

func (a *Averager) collect(ctx context.Context, duration time.Duration) ([]int, error) {
	durMs := duration.Milliseconds()
	start := a.clk.NowMillis()

	var samples []int
	for a.clk.NowMillis()-start < durMs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := a.reader.ReadRaw()
		if err != nil {
			return nil, fmt.Errorf("read sample %d: %w", len(samples), err)
		}
		samples = append(samples, raw)
		a.clk.Sleep(a.cfg.CalibrationInterval)
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	return samples, nil
}

// computeCalibration returns the mean, population standard deviation and
// mean+3σ threshold of samples. samples must not be empty.
func computeCalibration(samples []int) Calibration {
	n := float64(len(samples))

	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / n

	var sq float64
	for _, s := range samples {
		d := float64(s) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / n)

	return Calibration{
		NoiseFloor:       mean,
		NoiseStdDev:      std,
		DynamicThreshold: mean + 3*std,
		Samples:          len(samples),
	}
}

func (a *Averager) pauseDriver() bool {
	a.mu.Lock()
	running := a.driverRunning
	a.driverRunning = false
	a.mu.Unlock()

	if running {
		a.sched.Cancel()
	}
	return running
}

func (a *Averager) resumeDriver() {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}

	if err := a.sched.Schedule(a.cfg.Period, a.tick); err != nil {
		log.Printf("mic: could not resume background sampling: %v", err)
		return
	}
	a.mu.Lock()
	if a.closed {
		// Close ran while the sampler was being restarted.
		a.mu.Unlock()
		a.sched.Cancel()
		return
	}
	a.driverRunning = true
	a.mu.Unlock()
}

// DriverRunning reports whether the background sampler is active.
func (a *Averager) DriverRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.driverRunning
}

// ResetCalibration discards the calibration and reverts to the fixed
// threshold. Calling it when uncalibrated is a no-op.
func (a *Averager) ResetCalibration() {
	a.mu.Lock()
	was := a.cal != nil
	a.cal = nil
	a.mu.Unlock()
	if was {
		log.Printf("mic: calibration reset, using fixed threshold")
	}
}

// IsCalibrated reports whether a calibration is in effect.
func (a *Averager) IsCalibrated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cal != nil
}

// Calibration returns the calibration in effect, if any.
func (a *Averager) Calibration() (Calibration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cal == nil {
		return Calibration{}, false
	}
	return *a.cal, true
}

// NoiseFloor returns the calibrated noise floor.
func (a *Averager) NoiseFloor() (float64, bool) {
	c, ok := a.Calibration()
	return c.NoiseFloor, ok
}

// NoiseStdDev returns the calibrated noise standard deviation.
func (a *Averager) NoiseStdDev() (float64, bool) {
	c, ok := a.Calibration()
	return c.NoiseStdDev, ok
}

// ReadErrors returns how many background samples failed to read.
func (a *Averager) ReadErrors() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readErrors
}

// Close stops background sampling. It is safe to call more than once.
func (a *Averager) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	running := a.driverRunning
	a.driverRunning = false
	a.mu.Unlock()

	if running {
		a.sched.Cancel()
	}
	return nil
}
