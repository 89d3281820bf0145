// Package metrics exposes input and sensor counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sweeney/sensor-kit/internal/monitor"
)

// Metrics holds the collectors registered for the daemon.
type Metrics struct {
	// Events counts published input events by type.
	Events *prometheus.CounterVec
	// Calibrations counts calibration passes by result ("ok", "failed").
	Calibrations *prometheus.CounterVec
	// ReadErrors counts failed hardware reads by source ("button", "mic").
	ReadErrors *prometheus.CounterVec
	// PublishErrors counts MQTT publish failures.
	PublishErrors prometheus.Counter
	// SoundLevel is the moving average of the sound sensor.
	SoundLevel prometheus.Gauge
	// NoiseFloor is the calibrated noise floor, 0 when uncalibrated.
	NoiseFloor prometheus.Gauge
	// ButtonPressed is 1 while the button is held down.
	ButtonPressed prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorkit_events_total",
				Help: "Total number of input events by type",
			},
			[]string{"type"},
		),
		Calibrations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorkit_calibrations_total",
				Help: "Total number of noise calibrations by result",
			},
			[]string{"result"},
		),
		ReadErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensorkit_read_errors_total",
				Help: "Total number of failed hardware reads by source",
			},
			[]string{"source"},
		),
		PublishErrors: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sensorkit_publish_errors_total",
				Help: "Total number of failed MQTT publishes",
			},
		),
		SoundLevel: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sensorkit_sound_level",
				Help: "Moving average of the sound sensor in raw ADC units",
			},
		),
		NoiseFloor: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sensorkit_noise_floor",
				Help: "Calibrated noise floor in raw ADC units",
			},
		),
		ButtonPressed: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sensorkit_button_pressed",
				Help: "1 while the button is pressed",
			},
		),
	}
}

// ObserveEvent counts one event.
func (m *Metrics) ObserveEvent(e monitor.Event) {
	m.Events.WithLabelValues(string(e.Type)).Inc()
}

// ObserveState updates the gauges from the current monitor state.
func (m *Metrics) ObserveState(pressed bool, level int) {
	if pressed {
		m.ButtonPressed.Set(1)
	} else {
		m.ButtonPressed.Set(0)
	}
	m.SoundLevel.Set(float64(level))
}

// ObserveCalibration records a calibration result.
func (m *Metrics) ObserveCalibration(ok bool, noiseFloor float64) {
	if !ok {
		m.Calibrations.WithLabelValues("failed").Inc()
		return
	}
	m.Calibrations.WithLabelValues("ok").Inc()
	m.NoiseFloor.Set(noiseFloor)
}

// AddReadErrors adds n failed reads for source.
func (m *Metrics) AddReadErrors(source string, n int) {
	if n > 0 {
		m.ReadErrors.WithLabelValues(source).Add(float64(n))
	}
}
