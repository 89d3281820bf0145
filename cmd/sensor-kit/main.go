// Command sensor-kit polls a push button and a sound sensor and publishes
// input events to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/sensor-kit/internal/adc"
	"github.com/sweeney/sensor-kit/internal/button"
	"github.com/sweeney/sensor-kit/internal/clock"
	"github.com/sweeney/sensor-kit/internal/config"
	"github.com/sweeney/sensor-kit/internal/gpio"
	"github.com/sweeney/sensor-kit/internal/metrics"
	"github.com/sweeney/sensor-kit/internal/mic"
	"github.com/sweeney/sensor-kit/internal/mqtt"
	"github.com/sweeney/sensor-kit/internal/status"
	"github.com/sweeney/sensor-kit/internal/timer"
	"github.com/sweeney/sensor-kit/internal/web"
)

func main() {
	configPath := flag.String("config", "/etc/sensor-kit/config.yaml", "Path to YAML config (missing file uses defaults)")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", `HTTP status address (overrides config, "off" disables)`)
	printState := flag.Bool("print-state", false, "Print current input state and exit")
	calibrate := flag.Bool("calibrate", false, "Measure the sound sensor noise floor, print it and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	applyOverrides(cfg, *broker, *httpAddr)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := run(cfg, *printState, *calibrate); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyOverrides applies command line flags on top of the loaded config.
func applyOverrides(cfg *config.Config, broker, httpAddr string) {
	if broker != "" {
		cfg.MQTT.Broker = broker
	}
	switch httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = httpAddr
	}
}

func run(cfg *config.Config, printState, calibrateOnly bool) error {
	clk := clock.System()

	// Initialize the button
	line, err := gpio.NewLineInput(cfg.Button.Chip, cfg.Button.Pin, cfg.Button.ActiveLow)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	btn, err := button.New(line, clk, cfg.Button.ButtonTiming())
	if err != nil {
		line.Close()
		return fmt.Errorf("init button: %w", err)
	}
	defer btn.Close()

	// Initialize the sound sensor. The daemon runs without one if the ADC is absent.
	var sound *mic.Averager
	averager, closeMic, err := openMic(cfg.Mic, clk)
	switch {
	case err == nil:
		sound = averager
		defer closeMic()
	case printState || calibrateOnly:
		return err
	default:
		log.Printf("sound sensor unavailable, continuing with button only: %v", err)
	}

	if printState {
		return printInputState(btn, sound)
	}
	if calibrateOnly {
		return calibrateAndPrint(sound, cfg.Mic.CalibrationDuration)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		BufferSize:  cfg.MQTT.BufferSize,
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	l := &loop{
		button:              btn,
		publisher:           publisher,
		mqttStatus:          publisher,
		tracker:             tracker,
		metrics:             m,
		heartbeat:           cfg.Heartbeat,
		calibrationDuration: cfg.Mic.CalibrationDuration,
		now:                 time.Now,
	}
	if sound != nil {
		l.sound = sound
		tracker.SetDriverRunning(sound.DriverRunning())
	}

	l.publishStatus(time.Now(), "STARTUP", "", true)

	calReq := make(chan calibrationRequest, 1)
	if sound != nil && cfg.Mic.CalibrateOnStart && cfg.Mic.CalibrationDuration > 0 {
		calReq <- calibrationRequest{ctx: context.Background()}
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		opts := web.Options{Gatherer: reg}
		if sound != nil {
			opts.Calibrate = requestCalibration(calReq)
		}
		srv := web.New(cfg.HTTP.Addr, tracker, opts)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: pin=%d poll=%v debounce=%v mic=%v broker=%s heartbeat=%v",
		cfg.Button.Pin, cfg.Button.Poll, cfg.Button.Debounce, sound != nil, cfg.MQTT.Broker, cfg.Heartbeat)

	ticker := time.NewTicker(cfg.Button.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return l.run(ticker.C, sigCh, calReq)
}

// openMic opens the serial ADC and starts the averager. The returned func
// stops sampling and closes the port.
func openMic(c config.MicConfig, clk clock.Clock) (*mic.Averager, func(), error) {
	mc, err := c.Averager()
	if err != nil {
		return nil, nil, err
	}

	reader, err := adc.OpenSerial(c.Port, c.Baud, c.Bits)
	if err != nil {
		return nil, nil, fmt.Errorf("init adc: %w", err)
	}

	var sched timer.Scheduler
	if mc.Mode == mic.ModePush {
		sched = timer.NewTicker()
	}

	// The serial reader needs a moment to deliver its first sample.
	a, err := newAveragerWithRetry(reader, clk, sched, mc, 20, 50*time.Millisecond)
	if err != nil {
		reader.Close()
		return nil, nil, fmt.Errorf("init mic: %w", err)
	}
	return a, func() { closeSound(a, reader) }, nil
}

// closeSound stops the averager before closing the reader it samples.
func closeSound(a *mic.Averager, reader io.Closer) {
	if err := a.Close(); err != nil {
		log.Printf("close mic: %v", err)
	}
	if err := reader.Close(); err != nil {
		log.Printf("close adc: %v", err)
	}
}

func newAveragerWithRetry(reader adc.Reader, clk clock.Clock, sched timer.Scheduler, mc mic.Config, attempts int, wait time.Duration) (*mic.Averager, error) {
	var err error
	for i := 0; i < attempts; i++ {
		var a *mic.Averager
		a, err = mic.New(reader, clk, sched, mc)
		if !errors.Is(err, adc.ErrNoSample) {
			return a, err
		}
		clk.Sleep(wait)
	}
	return nil, err
}

func printInputState(btn *button.Button, sound *mic.Averager) error {
	fmt.Printf("Button: %s\n", pressedString(btn.IsPressed()))

	peak, avg, err := sound.Detect()
	if err != nil {
		return fmt.Errorf("read mic: %w", err)
	}
	pct, err := sound.Percent()
	if err != nil {
		return fmt.Errorf("read mic: %w", err)
	}
	fmt.Printf("Sound: %d/%d (%.1f%%), peak: %v\n", avg, sound.FullScale(), pct, peak)
	return nil
}

func calibrateAndPrint(sound *mic.Averager, duration time.Duration) error {
	if duration <= 0 {
		return errors.New("calibration duration must be positive")
	}
	if !sound.Calibrate(context.Background(), duration) {
		return errors.New("calibration failed")
	}
	c, _ := sound.Calibration()
	fmt.Printf("Noise floor: %.2f\nStd dev: %.2f\nThreshold: %.2f\nSamples: %d\n",
		c.NoiseFloor, c.NoiseStdDev, c.DynamicThreshold, c.Samples)
	return nil
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		PollMs:        cfg.Button.Poll.Milliseconds(),
		DebounceMs:    cfg.Button.Debounce.Milliseconds(),
		MinClickMs:    cfg.Button.MinClickInterval.Milliseconds(),
		MicMode:       cfg.Mic.Mode,
		SampleCount:   cfg.Mic.SampleCount,
		PeakThreshold: cfg.Mic.PeakThreshold,
		HeartbeatMs:   cfg.Heartbeat.Milliseconds(),
		Broker:        cfg.MQTT.Broker,
		TopicPrefix:   cfg.MQTT.TopicPrefix,
		HTTPPort:      cfg.HTTP.Addr,
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func pressedString(pressed bool) string {
	if pressed {
		return "PRESSED"
	}
	return "RELEASED"
}
