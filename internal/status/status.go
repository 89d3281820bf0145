// Package status provides a thread-safe status tracker for the sensor-kit daemon.
// It is read by the HTTP handlers and used to build lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/sensor-kit/internal/monitor"
)

// NetworkInfo contains network state as reported by the host environment.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs        int64
	DebounceMs    int64
	MinClickMs    int64
	MicMode       string
	SampleCount   int
	PeakThreshold float64
	HeartbeatMs   int64
	Broker        string
	TopicPrefix   string
	HTTPPort      string
}

// Calibration is the sound sensor's current noise estimate.
type Calibration struct {
	Calibrated  bool
	NoiseFloor  float64
	NoiseStdDev float64
	Threshold   float64
	Samples     int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Pressed       bool
	Level         int
	Started       bool
	Counts        monitor.EventCounts
	Calibration   Calibration
	DriverRunning bool
	MQTTConnected bool
	MQTTBuffered  int
	StartTime     time.Time
	Now           time.Time
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update sets the input state and event counts.
// Called from the run loop on every tick.
func (t *Tracker) Update(pressed bool, level int, started bool, counts monitor.EventCounts) {
	t.mu.Lock()
	t.snap.Pressed = pressed
	t.snap.Level = level
	t.snap.Started = started
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetCalibration records the latest noise calibration.
func (t *Tracker) SetCalibration(c Calibration) {
	t.mu.Lock()
	t.snap.Calibration = c
	t.mu.Unlock()
}

// SetDriverRunning records whether the periodic sampler is active.
func (t *Tracker) SetDriverRunning(running bool) {
	t.mu.Lock()
	t.snap.DriverRunning = running
	t.mu.Unlock()
}

// SetMQTT sets the MQTT connection status and the offline buffer depth.
func (t *Tracker) SetMQTT(connected bool, buffered int) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.snap.MQTTBuffered = buffered
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
