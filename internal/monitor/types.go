// Package monitor turns button and sound sensor readings into events.
// This package has no hardware, MQTT or OS dependencies; time is always
// passed in.
package monitor

import "time"

// EventType identifies an input event.
type EventType string

const (
	EventPressed  EventType = "PRESSED"
	EventReleased EventType = "RELEASED"
	EventClick    EventType = "CLICK"
	EventPeak     EventType = "PEAK"
)

// Event is an input event to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	// Pressed is the debounced button level after the event.
	Pressed bool
	// Level is the sound sensor's moving average at the time of the event.
	Level int
}

// Button is the debounced button the monitor polls.
type Button interface {
	IsPressed() bool
	IsClicked() bool
}

// PeakSource is the sound sensor the monitor polls.
type PeakSource interface {
	// Detect reports whether a spike is in progress and the average it
	// was measured against.
	Detect() (peak bool, avg int, err error)
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Presses    int
	Releases   int
	Clicks     int
	Peaks      int
	ReadErrors int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
