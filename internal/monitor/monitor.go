package monitor

import (
	"log"
	"time"
)

// Monitor polls a button and a sound sensor and reports edges as events.
type Monitor struct {
	button Button
	mic    PeakSource

	started bool
	pressed bool
	inPeak  bool
	level   int

	micFailing bool

	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
}

// New creates a monitor. mic may be nil when no sound sensor is fitted.
// The startTime is used for calculating uptime in heartbeat events.
func New(button Button, mic PeakSource, startTime time.Time) *Monitor {
	return &Monitor{
		button:        button,
		mic:           mic,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process polls the inputs once and returns the events that occurred.
// The first call only records the initial button level.
// Events are ordered PRESSED/RELEASED, CLICK, PEAK.
func (m *Monitor) Process(now time.Time) []Event {
	pressed := m.button.IsPressed()
	clicked := m.button.IsClicked()
	peak := m.pollMic()

	if !m.started {
		m.started = true
		m.pressed = pressed
		m.inPeak = peak
		return nil
	}

	var events []Event
	emit := func(t EventType) {
		events = append(events, Event{
			Timestamp: now,
			Type:      t,
			Pressed:   pressed,
			Level:     m.level,
		})
	}

	if pressed != m.pressed {
		if pressed {
			emit(EventPressed)
			m.eventCounts.Presses++
		} else {
			emit(EventReleased)
			m.eventCounts.Releases++
		}
		m.pressed = pressed
	}

	if clicked {
		emit(EventClick)
		m.eventCounts.Clicks++
	}

	// One event per spike: only the rising edge counts.
	if peak && !m.inPeak {
		emit(EventPeak)
		m.eventCounts.Peaks++
	}
	m.inPeak = peak

	return events
}

// pollMic returns whether a peak is in progress. Read errors count as no peak.
func (m *Monitor) pollMic() bool {
	if m.mic == nil {
		return false
	}

	peak, level, err := m.mic.Detect()
	if err != nil {
		m.eventCounts.ReadErrors++
		if !m.micFailing {
			log.Printf("monitor: mic read error: %v", err)
			m.micFailing = true
		}
		return false
	}
	m.micFailing = false
	m.level = level
	return peak
}

// IsStarted returns whether the initial state has been recorded.
func (m *Monitor) IsStarted() bool {
	return m.started
}

// CurrentState returns the debounced button level and the last sound level.
func (m *Monitor) CurrentState() (pressed bool, level int) {
	return m.pressed, m.level
}

// EventCountsSnapshot returns a copy of the event counters.
func (m *Monitor) EventCountsSnapshot() EventCounts {
	return m.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet started, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (m *Monitor) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !m.started {
		return nil
	}

	if now.Sub(m.lastHeartbeat) < interval {
		return nil
	}

	m.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(m.startTime),
		Counts:    m.eventCounts,
	}
}
