// Package config loads and validates the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/sensor-kit/internal/adc"
	"github.com/sweeney/sensor-kit/internal/button"
	"github.com/sweeney/sensor-kit/internal/gpio"
	"github.com/sweeney/sensor-kit/internal/mic"
)

// Config represents the daemon configuration.
type Config struct {
	Button    ButtonConfig  `yaml:"button"`
	Mic       MicConfig     `yaml:"mic"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	HTTP      HTTPConfig    `yaml:"http"`
	Heartbeat time.Duration `yaml:"heartbeat" validate:"gte=0s"` // 0 disables
}

// ButtonConfig describes the push button line and its timing.
type ButtonConfig struct {
	Chip             string        `yaml:"chip" validate:"required"`
	Pin              int           `yaml:"pin" validate:"gte=0"`
	ActiveLow        bool          `yaml:"active_low"`
	Poll             time.Duration `yaml:"poll" validate:"gt=0s"`
	Debounce         time.Duration `yaml:"debounce" validate:"gte=0s"`
	MinClickInterval time.Duration `yaml:"min_click_interval" validate:"gte=0s"`
}

// MicConfig describes the sound sensor ADC and the averager.
type MicConfig struct {
	Port                string        `yaml:"port" validate:"required"`
	Baud                int           `yaml:"baud" validate:"gt=0"`
	Bits                int           `yaml:"bits" validate:"min=1,max=16"`
	SampleCount         int           `yaml:"sample_count" validate:"min=1"`
	Mode                string        `yaml:"mode" validate:"oneof=push pull"`
	FrequencyHz         int           `yaml:"frequency_hz" validate:"min=1,max=1000"`
	PeakThreshold       float64       `yaml:"peak_threshold" validate:"gte=0,lte=1"`
	Min                 float64       `yaml:"min"`
	Max                 float64       `yaml:"max" validate:"gtfield=Min"`
	CalibrationInterval time.Duration `yaml:"calibration_interval" validate:"gt=0s"`
	CalibrateOnStart    bool          `yaml:"calibrate_on_start"`
	CalibrationDuration time.Duration `yaml:"calibration_duration" validate:"gte=0s"`
}

// MQTTConfig describes the event broker.
type MQTTConfig struct {
	Broker      string `yaml:"broker" validate:"required,url"`
	ClientID    string `yaml:"client_id" validate:"required"`
	TopicPrefix string `yaml:"topic_prefix" validate:"required"`
	BufferSize  int    `yaml:"buffer_size" validate:"gte=0"` // messages kept while offline
}

// HTTPConfig describes the status server.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables
}

// Default returns a configuration with sensible values.
func Default() *Config {
	return &Config{
		Button: ButtonConfig{
			Chip:             gpio.DefaultChip,
			Pin:              gpio.DefaultPin,
			Poll:             10 * time.Millisecond,
			Debounce:         button.DefaultDebounce,
			MinClickInterval: button.DefaultMinClickInterval,
		},
		Mic: MicConfig{
			Port:                "/dev/ttyACM0",
			Baud:                adc.DefaultBaudRate,
			Bits:                adc.DefaultBits,
			SampleCount:         mic.DefaultSampleCount,
			Mode:                "push",
			FrequencyHz:         50,
			PeakThreshold:       mic.DefaultPeakThreshold,
			Min:                 0,
			Max:                 100,
			CalibrationInterval: mic.DefaultCalibrationInterval,
			CalibrateOnStart:    true,
			CalibrationDuration: 3 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://192.168.1.200:1883",
			ClientID:    "sensor-kit",
			TopicPrefix: "home/sensor-kit",
			BufferSize:  100,
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
		Heartbeat: 15 * time.Minute,
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; missing fields are filled from the defaults. The result is
// validated.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ensureDefaults fills zero values that have no meaningful zero.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Button.Chip == "" {
		c.Button.Chip = def.Button.Chip
	}
	if c.Button.Poll == 0 {
		c.Button.Poll = def.Button.Poll
	}

	if c.Mic.Port == "" {
		c.Mic.Port = def.Mic.Port
	}
	if c.Mic.Baud == 0 {
		c.Mic.Baud = def.Mic.Baud
	}
	if c.Mic.Bits == 0 {
		c.Mic.Bits = def.Mic.Bits
	}
	if c.Mic.SampleCount == 0 {
		c.Mic.SampleCount = def.Mic.SampleCount
	}
	if c.Mic.Mode == "" {
		c.Mic.Mode = def.Mic.Mode
	}
	if c.Mic.FrequencyHz == 0 {
		c.Mic.FrequencyHz = def.Mic.FrequencyHz
	}
	if c.Mic.Min == 0 && c.Mic.Max == 0 {
		c.Mic.Max = def.Mic.Max
	}
	if c.Mic.CalibrationInterval == 0 {
		c.Mic.CalibrationInterval = def.Mic.CalibrationInterval
	}

	if c.MQTT.Broker == "" {
		c.MQTT.Broker = def.MQTT.Broker
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and reports all violations in one error.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", fieldPath(e), formatValidationMessage(e)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// fieldPath turns "Config.Mic.SampleCount" into "mic.samplecount".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "gtfield":
		return fmt.Sprintf("must be greater than %s", strings.ToLower(e.Param()))
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// ButtonTiming returns the debounce parameters for button.New.
func (c ButtonConfig) ButtonTiming() button.Config {
	return button.Config{
		Debounce:         c.Debounce,
		MinClickInterval: c.MinClickInterval,
	}
}

// Averager returns the parameters for mic.New.
func (c MicConfig) Averager() (mic.Config, error) {
	mode, err := mic.ParseMode(c.Mode)
	if err != nil {
		return mic.Config{}, err
	}
	if c.FrequencyHz <= 0 {
		return mic.Config{}, fmt.Errorf("mic: frequency %d Hz", c.FrequencyHz)
	}
	return mic.Config{
		Mode:                mode,
		SampleCount:         c.SampleCount,
		Bits:                c.Bits,
		PeakThreshold:       c.PeakThreshold,
		Period:              time.Second / time.Duration(c.FrequencyHz),
		CalibrationInterval: c.CalibrationInterval,
		Min:                 c.Min,
		Max:                 c.Max,
	}, nil
}
