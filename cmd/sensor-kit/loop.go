package main

import (
	"context"
	"errors"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/sensor-kit/internal/metrics"
	"github.com/sweeney/sensor-kit/internal/mic"
	"github.com/sweeney/sensor-kit/internal/monitor"
	"github.com/sweeney/sensor-kit/internal/mqtt"
	"github.com/sweeney/sensor-kit/internal/status"
	"github.com/sweeney/sensor-kit/internal/web"
)

var (
	errNoSoundSensor   = errors.New("no sound sensor")
	errCalibrating     = errors.New("calibration already in progress")
	errCalibrateFailed = errors.New("calibration failed")
)

// buttonInput is the debounced button polled by the loop.
type buttonInput interface {
	monitor.Button
	ReadErrors() int
}

// soundSensor is the averager polled and calibrated by the loop.
type soundSensor interface {
	monitor.PeakSource
	Calibrate(ctx context.Context, duration time.Duration) bool
	Calibration() (mic.Calibration, bool)
	DriverRunning() bool
}

// calibrationRequest asks the loop for a calibration pass. reply, if set,
// receives the result and must be buffered.
type calibrationRequest struct {
	ctx   context.Context
	reply chan calibrationResult
}

type calibrationResult struct {
	cal status.Calibration
	err error
}

type calibrationDone struct {
	req calibrationRequest
	ok  bool
}

// loop owns the monitor and everything published from it.
type loop struct {
	button              buttonInput
	sound               soundSensor // nil without a sound sensor
	publisher           mqtt.Publisher
	mqttStatus          mqtt.ConnectionStatus
	tracker             *status.Tracker
	metrics             *metrics.Metrics
	heartbeat           time.Duration
	calibrationDuration time.Duration
	now                 func() time.Time

	mon         *monitor.Monitor
	calibrating bool

	seenButtonErrors int
	seenMicErrors    int
}

// run polls on every tick until a signal arrives. Calibrations run on their
// own goroutine so the button keeps being polled.
func (l *loop) run(tick <-chan time.Time, sig <-chan os.Signal, calReq <-chan calibrationRequest) error {
	var peaks monitor.PeakSource
	if l.sound != nil {
		peaks = l.sound
	}
	l.mon = monitor.New(l.button, peaks, l.now())

	calDone := make(chan calibrationDone, 1)

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			l.publishStatus(l.now(), "SHUTDOWN", signalName(s), true)
			return nil

		case req := <-calReq:
			l.startCalibration(req, calDone)

		case d := <-calDone:
			l.finishCalibration(d)

		case <-tick:
			l.poll(l.now())
		}
	}
}

func (l *loop) poll(t time.Time) {
	events := l.mon.Process(t)

	for _, event := range events {
		log.Printf("event: %s (pressed=%v level=%d)", event.Type, event.Pressed, event.Level)
		if l.metrics != nil {
			l.metrics.ObserveEvent(event)
		}
		if err := l.publisher.Publish(event); err != nil {
			log.Printf("publish error: %v", err)
			// Don't crash on publish failure
			if l.metrics != nil {
				l.metrics.PublishErrors.Inc()
			}
		}
	}

	pressed, level := l.mon.CurrentState()
	counts := l.mon.EventCountsSnapshot()
	l.observe(pressed, level, counts)

	if !l.mon.IsStarted() {
		return
	}

	if hb := l.mon.CheckHeartbeat(t, l.heartbeat); hb != nil {
		log.Printf("heartbeat: uptime=%v presses=%d clicks=%d peaks=%d read_errors=%d",
			hb.Uptime, hb.Counts.Presses, hb.Counts.Clicks, hb.Counts.Peaks, hb.Counts.ReadErrors)
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil && l.tracker != nil {
			l.tracker.SetNetwork(net)
		}
		l.publishStatus(hb.Timestamp, "HEARTBEAT", "", false)
	}
}

// observe pushes the current state to the tracker and metrics.
func (l *loop) observe(pressed bool, level int, counts monitor.EventCounts) {
	if l.tracker != nil {
		l.tracker.Update(pressed, level, l.mon.IsStarted(), counts)
		if l.sound != nil {
			l.tracker.SetDriverRunning(l.sound.DriverRunning())
		}
		l.refreshMQTT()
	}

	if l.metrics != nil {
		l.metrics.ObserveState(pressed, level)
		buttonErrors := l.button.ReadErrors()
		l.metrics.AddReadErrors("button", buttonErrors-l.seenButtonErrors)
		l.metrics.AddReadErrors("mic", counts.ReadErrors-l.seenMicErrors)
		l.seenButtonErrors = buttonErrors
		l.seenMicErrors = counts.ReadErrors
	}
}

func (l *loop) refreshMQTT() {
	if l.tracker == nil || l.mqttStatus == nil {
		return
	}
	buffered := 0
	if b, ok := l.publisher.(interface{ Buffered() int }); ok {
		buffered = b.Buffered()
	}
	l.tracker.SetMQTT(l.mqttStatus.IsConnected(), buffered)
}

// publishStatus publishes a system event carrying a full status snapshot.
func (l *loop) publishStatus(ts time.Time, event, reason string, retained bool) {
	se := mqtt.SystemEvent{
		Timestamp: ts,
		Event:     event,
		Reason:    reason,
		Retained:  retained,
	}
	if l.tracker != nil {
		l.refreshMQTT()
		snap := l.tracker.Snapshot()
		se.RawPayload = status.FormatStatusEvent(snap, event, reason)
	}
	if err := l.publisher.PublishSystem(se); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

func (l *loop) startCalibration(req calibrationRequest, done chan<- calibrationDone) {
	if l.sound == nil {
		reply(req, calibrationResult{err: errNoSoundSensor})
		return
	}
	if l.calibrating {
		reply(req, calibrationResult{err: errCalibrating})
		return
	}
	l.calibrating = true

	ctx := req.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	sound, duration := l.sound, l.calibrationDuration
	go func() {
		done <- calibrationDone{req: req, ok: sound.Calibrate(ctx, duration)}
	}()
}

func (l *loop) finishCalibration(d calibrationDone) {
	l.calibrating = false

	c, calibrated := l.sound.Calibration()
	cal := toStatusCalibration(c, calibrated)

	if l.metrics != nil {
		l.metrics.ObserveCalibration(d.ok, c.NoiseFloor)
	}
	if l.tracker != nil {
		l.tracker.SetCalibration(cal)
		l.tracker.SetDriverRunning(l.sound.DriverRunning())
	}

	reason := ""
	res := calibrationResult{cal: cal}
	if !d.ok {
		reason = "FAILED"
		res.err = errCalibrateFailed
	}
	l.publishStatus(l.now(), "CALIBRATED", reason, false)
	reply(d.req, res)
}

func reply(req calibrationRequest, res calibrationResult) {
	if req.reply == nil {
		return
	}
	select {
	case req.reply <- res:
	default:
	}
}

func toStatusCalibration(c mic.Calibration, ok bool) status.Calibration {
	if !ok {
		return status.Calibration{}
	}
	return status.Calibration{
		Calibrated:  true,
		NoiseFloor:  c.NoiseFloor,
		NoiseStdDev: c.NoiseStdDev,
		Threshold:   c.DynamicThreshold,
		Samples:     c.Samples,
	}
}

// requestCalibration returns the POST /calibrate handler function. It
// queues a request for the loop and waits for the result.
func requestCalibration(calReq chan<- calibrationRequest) web.CalibrateFunc {
	return func(ctx context.Context) (status.Calibration, error) {
		req := calibrationRequest{ctx: ctx, reply: make(chan calibrationResult, 1)}
		select {
		case calReq <- req:
		case <-ctx.Done():
			return status.Calibration{}, ctx.Err()
		}
		select {
		case res := <-req.reply:
			return res.cal, res.err
		case <-ctx.Done():
			return status.Calibration{}, ctx.Err()
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
