package internal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/sensor-kit/internal/adc"
	"github.com/sweeney/sensor-kit/internal/button"
	"github.com/sweeney/sensor-kit/internal/clock"
	"github.com/sweeney/sensor-kit/internal/gpio"
	"github.com/sweeney/sensor-kit/internal/mic"
	"github.com/sweeney/sensor-kit/internal/monitor"
	"github.com/sweeney/sensor-kit/internal/mqtt"
	"github.com/sweeney/sensor-kit/internal/status"
	"github.com/sweeney/sensor-kit/internal/timer"
)

var startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const pollInterval = 10 * time.Millisecond

// rig is the full input stack on fakes, driven one poll at a time.
type rig struct {
	clk    *clock.Fake
	input  *gpio.FakeInput
	reader *adc.FakeReader
	sched  *timer.Fake
	mic    *mic.Averager
	mon    *monitor.Monitor
	pub    *mqtt.FakePublisher
}

// newRig builds the stack with the button at pressed and the sound sensor
// reading level.
func newRig(t *testing.T, pressed bool, level int) *rig {
	t.Helper()
	r := &rig{
		clk:    clock.NewFake(0),
		input:  gpio.NewFakeInput(pressed),
		reader: adc.NewFakeReader(level),
		sched:  timer.NewFake(),
		pub:    mqtt.NewFakePublisher(),
	}

	btn, err := button.New(r.input, r.clk, button.DefaultConfig())
	if err != nil {
		t.Fatalf("button.New: %v", err)
	}

	cfg := mic.DefaultConfig()
	cfg.SampleCount = 5
	r.mic, err = mic.New(r.reader, r.clk, r.sched, cfg)
	if err != nil {
		t.Fatalf("mic.New: %v", err)
	}
	t.Cleanup(func() { r.mic.Close() })

	r.mon = monitor.New(btn, r.mic, startTime)
	return r
}

// step advances the clock by one poll, lets the sampler run once and
// publishes whatever the monitor reports.
func (r *rig) step(t *testing.T) []monitor.Event {
	t.Helper()
	r.clk.Advance(pollInterval)
	r.sched.Fire(1)

	now := startTime.Add(time.Duration(r.clk.NowMillis()) * time.Millisecond)
	events := r.mon.Process(now)
	for _, e := range events {
		if err := r.pub.Publish(e); err != nil {
			t.Logf("publish error: %v", err)
		}
	}
	return events
}

// TestIntegrationFullFlow runs a press, a release and a sound spike through
// the whole stack.
func TestIntegrationFullFlow(t *testing.T) {
	r := newRig(t, false, 200)

	for i := 1; i <= 30; i++ {
		switch i {
		case 5:
			r.input.Set(true)
		case 12:
			r.input.Set(false)
		case 20:
			r.reader.Set(4000)
		case 21:
			r.reader.Set(200)
		}
		r.step(t)
	}

	want := []monitor.EventType{monitor.EventPressed, monitor.EventReleased, monitor.EventClick, monitor.EventPeak}
	got := r.pub.EventTypes()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	wantMs := []int64{70, 140, 140, 200}
	for i, e := range r.pub.Events {
		if ms := e.Timestamp.Sub(startTime).Milliseconds(); ms != wantMs[i] {
			t.Errorf("event %d (%s) at %dms, want %dms", i, e.Type, ms, wantMs[i])
		}
	}

	// Window of 5: four 200s and the 4000 spike.
	if r.pub.Events[3].Level != 960 {
		t.Errorf("expected PEAK level 960, got %d", r.pub.Events[3].Level)
	}

	for i, payload := range r.pub.Payloads {
		var parsed mqtt.Payload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Fatalf("payload %d: invalid JSON: %v", i, err)
		}
		if parsed.Sensor.ID == "" || parsed.Sensor.Timestamp == "" {
			t.Errorf("payload %d: missing id or timestamp: %s", i, payload)
		}
		if parsed.Sensor.Event != string(want[i]) {
			t.Errorf("payload %d: event %s, want %s", i, parsed.Sensor.Event, want[i])
		}
	}
	var pressed mqtt.Payload
	json.Unmarshal(r.pub.Payloads[0], &pressed)
	if !pressed.Sensor.Pressed {
		t.Error("PRESSED payload should report pressed=true")
	}

	counts := r.mon.EventCountsSnapshot()
	if counts.Presses != 1 || counts.Releases != 1 || counts.Clicks != 1 || counts.Peaks != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

// TestIntegrationNoEventsAtStartup verifies a held button and a loud room
// present at startup are not reported.
func TestIntegrationNoEventsAtStartup(t *testing.T) {
	r := newRig(t, true, 4000)

	for i := 0; i < 10; i++ {
		r.step(t)
	}

	if len(r.pub.Events) != 0 {
		t.Errorf("expected no events, got %v", r.pub.EventTypes())
	}
	pressed, level := r.mon.CurrentState()
	if !pressed || level != 4000 {
		t.Errorf("expected pressed at 4000, got pressed=%v level=%d", pressed, level)
	}
}

// TestIntegrationBounceRejected verifies a glitch shorter than the debounce
// window produces nothing.
func TestIntegrationBounceRejected(t *testing.T) {
	r := newRig(t, false, 200)
	r.step(t)

	r.input.Set(true)
	r.step(t)
	r.input.Set(false)
	for i := 0; i < 5; i++ {
		r.step(t)
	}

	if len(r.pub.Events) != 0 {
		t.Errorf("expected bounce to be rejected, got %v", r.pub.EventTypes())
	}
}

// TestIntegrationCalibrationRaisesThreshold shows a spike that trips the
// fixed threshold being absorbed by a calibrated noise floor.
func TestIntegrationCalibrationRaisesThreshold(t *testing.T) {
	r := newRig(t, false, 200)
	r.step(t) // baseline

	// Uncalibrated: 1000 against an average of 200 beats 15% of 4095.
	r.reader.Set(1000)
	if ok, err := r.mic.PeakDetected(); err != nil || !ok {
		t.Fatalf("expected uncalibrated peak, got %v, %v", ok, err)
	}

	if !r.mic.Calibrate(context.Background(), 50*time.Millisecond) {
		t.Fatal("calibration failed")
	}
	cal, ok := r.mic.Calibration()
	if !ok || cal.NoiseFloor != 1000 || cal.DynamicThreshold != 1000 {
		t.Fatalf("unexpected calibration: %+v", cal)
	}
	if !r.mic.DriverRunning() {
		t.Error("expected sampler to be resumed")
	}

	// The window still averages 200 since the sampler has not run.
	if ok, _ := r.mic.PeakDetected(); ok {
		t.Error("expected no peak once calibrated")
	}
}

// TestIntegrationPublishFailureDoesNotCrash verifies later events still publish.
func TestIntegrationPublishFailureDoesNotCrash(t *testing.T) {
	r := newRig(t, false, 200)
	r.pub.PublishError = errors.New("broker down")

	r.step(t)
	r.input.Set(true)
	for i := 0; i < 4; i++ {
		r.step(t)
	}
	if len(r.pub.Events) != 0 {
		t.Fatalf("expected no recorded events while failing, got %d", len(r.pub.Events))
	}

	r.pub.PublishError = nil
	r.input.Set(false)
	for i := 0; i < 4; i++ {
		r.step(t)
	}

	got := r.pub.EventTypes()
	if len(got) != 2 || got[0] != monitor.EventReleased || got[1] != monitor.EventClick {
		t.Errorf("expected RELEASED, CLICK after recovery, got %v", got)
	}
}

// TestIntegrationHeartbeatAfterEvents checks the heartbeat status payload.
func TestIntegrationHeartbeatAfterEvents(t *testing.T) {
	r := newRig(t, false, 200)
	tracker := status.NewTracker(startTime, status.Config{Broker: "tcp://localhost:1883", HeartbeatMs: 100})

	r.step(t)
	r.input.Set(true)
	for i := 0; i < 4; i++ {
		r.step(t)
	}

	now := startTime.Add(time.Duration(r.clk.NowMillis()) * time.Millisecond)
	hb := r.mon.CheckHeartbeat(now.Add(100*time.Millisecond), 100*time.Millisecond)
	if hb == nil {
		t.Fatal("expected heartbeat")
	}

	pressed, level := r.mon.CurrentState()
	tracker.Update(pressed, level, r.mon.IsStarted(), hb.Counts)
	snap := tracker.Snapshot()

	event := mqtt.SystemEvent{
		Timestamp:  hb.Timestamp,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := r.pub.PublishSystem(event); err != nil {
		t.Fatalf("publish heartbeat: %v", err)
	}

	var parsed status.StatusJSON
	if err := json.Unmarshal(r.pub.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if !parsed.Status.Button.Pressed {
		t.Error("expected button pressed in heartbeat")
	}
	if parsed.Status.Counts.Presses != 1 {
		t.Errorf("presses: got %d, want 1", parsed.Status.Counts.Presses)
	}
	if parsed.Status.Sound.Level != 200 {
		t.Errorf("sound level: got %d, want 200", parsed.Status.Sound.Level)
	}
}

// TestIntegrationShutdownPayloadFormat checks the plain system payload.
func TestIntegrationShutdownPayloadFormat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	err := pub.PublishSystem(mqtt.SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 22, 15, 30, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T22:15:30Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(pub.SystemPayloads[0]) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", pub.SystemPayloads[0], expected)
	}
}
