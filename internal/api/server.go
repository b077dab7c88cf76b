// Package api is the rover's HTTP control surface. It only drives the mode
// switch, camera and telemetry entry points; it never talks to the motors.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/rover/internal/camera"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/httputil"
	"github.com/banshee-data/rover/internal/modes"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/orchestrator"
	"github.com/banshee-data/rover/internal/version"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// ANSI escape codes used by LoggingMiddleware.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Controller is the part of the orchestrator the API drives.
type Controller interface {
	SwitchTo(mode orchestrator.Mode) error
	StopAll() error
	Status() orchestrator.Status
}

// Camera is the part of the camera supervisor the API drives.
type Camera interface {
	Start() error
	Stop() error
	ToggleMode() (camera.Selector, error)
	Status() camera.Status
}

// Telemetry is the read side of the journal.
type Telemetry interface {
	ThrottleSummary(mode string) (db.ThrottleSummary, error)
	RecentTransitions(limit int) ([]db.TransitionRow, error)
	RecentCommands(limit int) ([]db.CommandRow, error)
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Rover   orchestrator.Status `json:"rover"`
	Camera  *camera.Status      `json:"camera,omitempty"`
	Version version.Info        `json:"version"`
}

// Server exposes the rover's mode control, camera and telemetry over HTTP.
// Routes backed by a nil Camera or Telemetry answer 503.
type Server struct {
	ctl       Controller
	camera    Camera
	telemetry Telemetry
}

// NewServer builds a Server. cam and telemetry may be nil when the camera or
// the journal are disabled; their routes then answer 503.
func NewServer(ctl Controller, cam Camera, telemetry Telemetry) *Server {
	return &Server{ctl: ctl, camera: cam, telemetry: telemetry}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/mode/", s.switchMode)
	mux.HandleFunc("/api/stop", s.stopAll)
	mux.HandleFunc("/api/camera/", s.cameraControl)
	mux.HandleFunc("/api/telemetry/summary", s.showSummary)
	mux.HandleFunc("/api/telemetry/transitions", s.listTransitions)
	mux.HandleFunc("/api/telemetry/commands", s.listCommands)
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := StatusResponse{Rover: s.ctl.Status(), Version: version.Get()}
	if s.camera != nil {
		st := s.camera.Status()
		resp.Camera = &st
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) switchMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/mode/"), "/")
	mode, err := orchestrator.ParseMode(name)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}

	if err := s.ctl.SwitchTo(mode); err != nil {
		writeSwitchError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Status())
}

func (s *Server) stopAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.ctl.StopAll(); err != nil {
		writeSwitchError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Status())
}

func writeSwitchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, modes.ErrStartup):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, orchestrator.ErrStopTimeout), errors.Is(err, orchestrator.ErrClosed):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, orchestrator.ErrUnknownMode):
		httputil.NotFound(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) cameraControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.camera == nil {
		httputil.ServiceUnavailable(w, "camera disabled")
		return
	}

	var err error
	switch action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/camera/"), "/"); action {
	case "start":
		err = s.camera.Start()
	case "stop":
		err = s.camera.Stop()
	case "toggle":
		_, err = s.camera.ToggleMode()
	default:
		httputil.NotFound(w, fmt.Sprintf("unknown camera action %q", action))
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.camera.Status())
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if !s.telemetryGet(w, r) {
		return
	}

	var names []string
	if v := r.URL.Query().Get("mode"); v != "" {
		mode, err := orchestrator.ParseMode(v)
		if err != nil || mode == orchestrator.ModeIdle {
			httputil.BadRequest(w, fmt.Sprintf("invalid mode %q", v))
			return
		}
		names = []string{mode.String()}
	} else {
		for _, m := range orchestrator.Modes {
			names = append(names, m.String())
		}
	}

	summaries := make([]db.ThrottleSummary, 0, len(names))
	for _, name := range names {
		sum, err := s.telemetry.ThrottleSummary(name)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("summary for %s: %v", name, err))
			return
		}
		summaries = append(summaries, sum)
	}
	httputil.WriteJSONOK(w, summaries)
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if !s.telemetryGet(w, r) {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.telemetry.RecentTransitions(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if rows == nil {
		rows = []db.TransitionRow{}
	}
	httputil.WriteJSONOK(w, rows)
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	if !s.telemetryGet(w, r) {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.telemetry.RecentCommands(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if rows == nil {
		rows = []db.CommandRow{}
	}
	httputil.WriteJSONOK(w, rows)
}

func (s *Server) telemetryGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return false
	}
	if s.telemetry == nil {
		httputil.ServiceUnavailable(w, "telemetry journal disabled")
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxListLimit {
		httputil.BadRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
		return 0, false
	}
	return n, true
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + code + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + code + colorReset
	case statusCode >= 400:
		return colorBoldRed + code + colorReset
	default:
		return code
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
