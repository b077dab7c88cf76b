// Package camera signals the external camera pipeline: start and stop the
// stream, and select between the plain stream and face recognition.
package camera

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/rover/internal/monitoring"
)

// Selector is the shared two-valued stream selector read by the camera
// pipeline.
type Selector int32

const (
	StreamPlain       Selector = 0
	StreamRecognition Selector = 1
)

func (s Selector) String() string {
	if s == StreamRecognition {
		return "recognition"
	}
	return "plain"
}

// Label is the human-readable name shown to operators.
func (s Selector) Label() string {
	if s == StreamRecognition {
		return "Face Detection"
	}
	return "Simple Stream"
}

// Action is a control message for the camera pipeline.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Signaler delivers control messages to the camera pipeline.
type Signaler interface {
	Control(action Action, mode Selector) error
	PublishMode(mode Selector) error
	Close() error
}

// Status is a snapshot of the supervisor.
type Status struct {
	Running bool     `json:"running"`
	Mode    Selector `json:"mode"`
	Label   string   `json:"label"`
}

// Supervisor tracks whether the camera pipeline should be running and which
// stream it should produce.
type Supervisor struct {
	signaler Signaler
	logf     func(string, ...interface{})

	mu      sync.Mutex // serialises start/stop
	running bool
	mode    atomic.Int32
}

// NewSupervisor returns a stopped supervisor in plain stream mode.
func NewSupervisor(s Signaler) *Supervisor {
	return &Supervisor{signaler: s, logf: monitoring.Component("camera")}
}

// Start asks the pipeline to start. Starting a running camera is a no-op.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logf("camera stream is already running")
		return nil
	}
	if err := s.signaler.Control(ActionStart, s.Mode()); err != nil {
		return fmt.Errorf("start camera: %w", err)
	}
	s.running = true
	s.logf("camera stream started (%s)", s.Mode().Label())
	return nil
}

// Stop asks the pipeline to stop. Stopping a stopped camera is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.logf("camera stream is not running")
		return nil
	}
	if err := s.signaler.Control(ActionStop, s.Mode()); err != nil {
		return fmt.Errorf("stop camera: %w", err)
	}
	s.running = false
	s.logf("camera stream stopped")
	return nil
}

// ToggleMode flips the stream selector and publishes the new value. The
// selector changes even if publishing fails; the error is returned so the
// caller can report it.
func (s *Supervisor) ToggleMode() (Selector, error) {
	var next Selector
	for {
		cur := s.mode.Load()
		next = StreamRecognition
		if Selector(cur) == StreamRecognition {
			next = StreamPlain
		}
		if s.mode.CompareAndSwap(cur, int32(next)) {
			break
		}
	}
	s.logf("camera mode switched to: %s", next.Label())
	if err := s.signaler.PublishMode(next); err != nil {
		return next, fmt.Errorf("publish camera mode: %w", err)
	}
	return next, nil
}

// Mode returns the current stream selector.
func (s *Supervisor) Mode() Selector {
	return Selector(s.mode.Load())
}

// Running reports whether the pipeline was last asked to run.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a snapshot for the status API.
func (s *Supervisor) Status() Status {
	m := s.Mode()
	return Status{Running: s.Running(), Mode: m, Label: m.Label()}
}

// Close stops the pipeline if it is running and releases the signaler.
func (s *Supervisor) Close() error {
	stopErr := s.Stop()
	if err := s.signaler.Close(); err != nil {
		return err
	}
	return stopErr
}
