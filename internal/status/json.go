package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Button        ButtonJSON   `json:"button"`
	Sound         SoundJSON    `json:"sound"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// ButtonJSON reports the debounced button state.
type ButtonJSON struct {
	Pressed bool `json:"pressed"`
}

// SoundJSON reports the sound sensor state.
type SoundJSON struct {
	Level         int     `json:"level"`
	DriverRunning bool    `json:"driver_running"`
	Calibrated    bool    `json:"calibrated"`
	NoiseFloor    float64 `json:"noise_floor"`
	NoiseStdDev   float64 `json:"noise_stddev"`
	Threshold     float64 `json:"threshold"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Presses    int `json:"presses"`
	Releases   int `json:"releases"`
	Clicks     int `json:"clicks"`
	Peaks      int `json:"peaks"`
	ReadErrors int `json:"read_errors"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs        int64   `json:"poll_ms"`
	DebounceMs    int64   `json:"debounce_ms"`
	MinClickMs    int64   `json:"min_click_ms"`
	MicMode       string  `json:"mic_mode"`
	SampleCount   int     `json:"sample_count"`
	PeakThreshold float64 `json:"peak_threshold"`
	HeartbeatMs   int64   `json:"heartbeat_ms"`
	Broker        string  `json:"broker"`
	TopicPrefix   string  `json:"topic_prefix"`
	HTTPPort      string  `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Button: ButtonJSON{Pressed: snap.Pressed},
		Sound: SoundJSON{
			Level:         snap.Level,
			DriverRunning: snap.DriverRunning,
			Calibrated:    snap.Calibration.Calibrated,
			NoiseFloor:    snap.Calibration.NoiseFloor,
			NoiseStdDev:   snap.Calibration.NoiseStdDev,
			Threshold:     snap.Calibration.Threshold,
		},
		Ready:         snap.Started,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Buffered:  snap.MQTTBuffered,
		},
		Counts: CountsJSON{
			Presses:    snap.Counts.Presses,
			Releases:   snap.Counts.Releases,
			Clicks:     snap.Counts.Clicks,
			Peaks:      snap.Counts.Peaks,
			ReadErrors: snap.Counts.ReadErrors,
		},
		Config: ConfigJSON(snap.Config),
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
