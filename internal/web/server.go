// Package web provides an HTTP status server for the sensor-kit daemon.
package web

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/sensor-kit/internal/status"
)

// CalibrateFunc runs a noise calibration and returns the result.
type CalibrateFunc func(ctx context.Context) (status.Calibration, error)

// Options holds the optional parts of the server.
type Options struct {
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Calibrate backs POST /calibrate. Nil disables the endpoint.
	Calibrate CalibrateFunc
	// CalibrateTimeout bounds a calibration request. Defaults to 30s.
	CalibrateTimeout time.Duration
	// AccessLog receives one line per request. Defaults to stdout.
	AccessLog io.Writer
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	opts       Options
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	if opts.CalibrateTimeout <= 0 {
		opts.CalibrateTimeout = 30 * time.Second
	}
	if opts.AccessLog == nil {
		opts.AccessLog = os.Stdout
	}
	s := &Server{tracker: tracker, opts: opts}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(opts.AccessLog, s.router()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if s.opts.Calibrate != nil {
		r.HandleFunc("/calibrate", s.handleCalibrate).Methods(http.MethodPost)
	}
	return r
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		log.Printf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// CalibrationJSON is the response body of POST /calibrate.
type CalibrationJSON struct {
	OK          bool    `json:"ok"`
	Error       string  `json:"error,omitempty"`
	NoiseFloor  float64 `json:"noise_floor"`
	NoiseStdDev float64 `json:"noise_stddev"`
	Threshold   float64 `json:"threshold"`
	Samples     int     `json:"samples"`
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CalibrateTimeout)
	defer cancel()

	cal, err := s.opts.Calibrate(ctx)

	resp := CalibrationJSON{
		OK:          err == nil,
		NoiseFloor:  cal.NoiseFloor,
		NoiseStdDev: cal.NoiseStdDev,
		Threshold:   cal.Threshold,
		Samples:     cal.Samples,
	}
	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
