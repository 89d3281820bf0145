package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/sensor-kit/internal/monitor"
)

func fixedID(t *testing.T, id string) {
	t.Helper()
	orig := newID
	newID = func() string { return id }
	t.Cleanup(func() { newID = orig })
}

func TestNewTopics(t *testing.T) {
	tests := []struct {
		prefix string
		events string
		system string
	}{
		{"home/hall", "home/hall/events", "home/hall/system"},
		{"home/hall/", "home/hall/events", "home/hall/system"},
		{"", "home/sensor-kit/events", "home/sensor-kit/system"},
	}
	for _, tt := range tests {
		got := NewTopics(tt.prefix)
		if got.Events != tt.events || got.System != tt.system {
			t.Errorf("NewTopics(%q) = %+v", tt.prefix, got)
		}
	}
}

func TestFormatPayload(t *testing.T) {
	fixedID(t, "0b8e8f5e-3c1f-4c55-9d3e-2f6f1a2b3c4d")

	event := monitor.Event{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Type:      monitor.EventClick,
		Pressed:   false,
		Level:     412,
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"sensor":{"id":"0b8e8f5e-3c1f-4c55-9d3e-2f6f1a2b3c4d","timestamp":"2026-02-02T22:18:12Z","event":"CLICK","pressed":false,"level":412}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadAllEventTypes(t *testing.T) {
	for _, typ := range []monitor.EventType{
		monitor.EventPressed, monitor.EventReleased, monitor.EventClick, monitor.EventPeak,
	} {
		payload, err := FormatPayload(monitor.Event{Timestamp: time.Now(), Type: typ})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		var parsed Payload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Fatalf("%s: invalid JSON: %v", typ, err)
		}
		if parsed.Sensor.Event != string(typ) {
			t.Errorf("expected event %s, got %s", typ, parsed.Sensor.Event)
		}
	}
}

func TestFormatPayloadUniqueIDs(t *testing.T) {
	e := monitor.Event{Timestamp: time.Now(), Type: monitor.EventPeak}
	a, _ := FormatPayload(e)
	b, _ := FormatPayload(e)

	var pa, pb Payload
	if err := json.Unmarshal(a, &pa); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(b, &pb); err != nil {
		t.Fatal(err)
	}
	if pa.Sensor.ID == "" || pa.Sensor.ID == pb.Sensor.ID {
		t.Errorf("expected distinct non-empty ids, got %q and %q", pa.Sensor.ID, pb.Sensor.ID)
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	event := monitor.Event{
		Timestamp: time.Date(2026, 2, 2, 10, 0, 0, 250_000_000, loc),
		Type:      monitor.EventPressed,
		Pressed:   true,
	}

	payload, _ := FormatPayload(event)
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Sensor.Timestamp != "2026-02-02T08:00:00.25Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.Sensor.Timestamp)
	}
	if !parsed.Sensor.Pressed {
		t.Error("expected pressed=true")
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadOmitsEmptyReason(t *testing.T) {
	payload, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	})

	expected := `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("expected raw payload passthrough, got %s", payload)
	}
}

func TestWillPayload(t *testing.T) {
	var parsed SystemPayload
	if err := json.Unmarshal(WillPayload(), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Event != "OFFLINE" {
		t.Errorf("expected OFFLINE event, got %s", parsed.System.Event)
	}
	if parsed.System.Reason != "LWT" {
		t.Errorf("expected LWT reason, got %s", parsed.System.Reason)
	}
}

func TestFakePublisher(t *testing.T) {
	pub := NewFakePublisher()

	events := []monitor.Event{
		{Timestamp: time.Now(), Type: monitor.EventPressed, Pressed: true},
		{Timestamp: time.Now(), Type: monitor.EventReleased},
		{Timestamp: time.Now(), Type: monitor.EventClick},
	}
	for _, e := range events {
		if err := pub.Publish(e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(pub.Events) != 3 || len(pub.Payloads) != 3 {
		t.Fatalf("expected 3 events and payloads, got %d/%d", len(pub.Events), len(pub.Payloads))
	}
	got := pub.EventTypes()
	for i, e := range events {
		if got[i] != e.Type {
			t.Errorf("event %d: expected %s, got %s", i, e.Type, got[i])
		}
	}
}

func TestFakePublisherErrors(t *testing.T) {
	pub := NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	pub.PublishSystemError = errors.New("broker down")

	if err := pub.Publish(monitor.Event{Type: monitor.EventPeak}); err == nil {
		t.Error("expected publish error")
	}
	if err := pub.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err == nil {
		t.Error("expected publish system error")
	}
	if len(pub.Events) != 0 || len(pub.SystemEvents) != 0 {
		t.Error("failed publishes must not be recorded")
	}
}

func TestFakePublisherReset(t *testing.T) {
	pub := NewFakePublisher()
	pub.Connected = true
	_ = pub.Publish(monitor.Event{Type: monitor.EventClick})
	_ = pub.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true})
	_ = pub.Close()

	if !pub.SystemEvents[0].Retained {
		t.Error("expected retained flag to be recorded")
	}
	if names := pub.SystemEventNames(); len(names) != 1 || names[0] != "STARTUP" {
		t.Errorf("unexpected system events: %v", names)
	}

	pub.Reset()
	if len(pub.Events) != 0 || len(pub.SystemEvents) != 0 || pub.Closed || pub.IsConnected() {
		t.Error("expected reset to clear all state")
	}
}

// fakeToken is a completed paho token.
type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type sentMsg struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes and can be switched offline.
type fakeClient struct {
	mu           sync.Mutex
	online       bool
	err          error
	sent         []sentMsg
	disconnected bool
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return &fakeToken{err: c.err}
	}
	c.sent = append(c.sent, sentMsg{topic, qos, retained, payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) setOnline(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = m.topic
	}
	return out
}

func TestRealPublisherPublishesWhenConnected(t *testing.T) {
	client := &fakeClient{online: true}
	p := newPublisher(client, NewTopics("home/hall"), 10)
	p.onConnect()

	if err := p.Publish(monitor.Event{Timestamp: time.Now(), Type: monitor.EventClick}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(client.sent))
	}
	if m := client.sent[0]; m.topic != "home/hall/events" || m.qos != 0 || m.retained {
		t.Errorf("unexpected event message: %+v", m)
	}
	if m := client.sent[1]; m.topic != "home/hall/system" || m.qos != 1 || !m.retained {
		t.Errorf("unexpected system message: %+v", m)
	}
	if !p.IsConnected() {
		t.Error("expected IsConnected=true")
	}
}

func TestRealPublisherBuffersWhileOffline(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, NewTopics("home/hall"), 10)

	for i := 0; i < 3; i++ {
		if err := p.Publish(monitor.Event{Timestamp: time.Now(), Type: monitor.EventPeak, Level: i}); err != nil {
			t.Fatalf("buffered publish should not fail: %v", err)
		}
	}
	if p.Buffered() != 3 {
		t.Fatalf("expected 3 buffered, got %d", p.Buffered())
	}
	if len(client.sent) != 0 {
		t.Fatal("nothing should be sent while offline")
	}

	// First connection replays without announcing a reconnect.
	client.setOnline(true)
	p.onConnect()

	if p.Buffered() != 0 {
		t.Errorf("expected empty buffer after replay, got %d", p.Buffered())
	}
	if len(client.sent) != 3 {
		t.Fatalf("expected 3 replayed messages, got %d", len(client.sent))
	}
	for i, m := range client.sent {
		var parsed Payload
		if err := json.Unmarshal(m.payload, &parsed); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if parsed.Sensor.Level != i {
			t.Errorf("replay out of order: message %d has level %d", i, parsed.Sensor.Level)
		}
	}
}

func TestRealPublisherAnnouncesReconnect(t *testing.T) {
	client := &fakeClient{online: true}
	p := newPublisher(client, NewTopics("home/hall"), 10)
	p.onConnect()

	client.setOnline(false)
	_ = p.Publish(monitor.Event{Timestamp: time.Now(), Type: monitor.EventClick})

	client.setOnline(true)
	p.onConnect()

	got := client.topics()
	want := []string{"home/hall/events", "home/hall/system"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	var parsed SystemPayload
	if err := json.Unmarshal(client.sent[1].payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Event != "RECONNECTED" {
		t.Errorf("expected RECONNECTED, got %s", parsed.System.Event)
	}
}

func TestRealPublisherBufferOverflowDropsOldest(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, NewTopics("x"), 2)

	for i := 0; i < 5; i++ {
		_ = p.Publish(monitor.Event{Type: monitor.EventPeak, Level: i})
	}
	if p.Buffered() != 2 {
		t.Fatalf("expected 2 buffered, got %d", p.Buffered())
	}

	client.setOnline(true)
	p.onConnect()

	var first Payload
	if err := json.Unmarshal(client.sent[0].payload, &first); err != nil {
		t.Fatal(err)
	}
	if first.Sensor.Level != 3 {
		t.Errorf("expected oldest kept level 3, got %d", first.Sensor.Level)
	}
}

func TestRealPublisherFailedPublishIsBuffered(t *testing.T) {
	client := &fakeClient{online: true, err: errors.New("not authorised")}
	p := newPublisher(client, NewTopics("x"), 5)

	if err := p.Publish(monitor.Event{Type: monitor.EventClick}); err == nil {
		t.Fatal("expected publish error")
	}
	if p.Buffered() != 1 {
		t.Errorf("expected failed message to be buffered, got %d", p.Buffered())
	}

	// Replay fails too: message stays buffered.
	p.onConnect()
	if p.Buffered() != 1 {
		t.Errorf("expected message re-buffered after failed replay, got %d", p.Buffered())
	}
}

func TestRealPublisherWithoutBuffer(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, NewTopics("x"), 0)

	err := p.Publish(monitor.Event{Type: monitor.EventClick})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if p.Buffered() != 0 {
		t.Errorf("expected no buffering, got %d", p.Buffered())
	}
}

func TestRealPublisherClose(t *testing.T) {
	client := &fakeClient{online: true}
	p := newPublisher(client, NewTopics("x"), 1)
	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !client.disconnected {
		t.Error("expected client disconnect")
	}
}
