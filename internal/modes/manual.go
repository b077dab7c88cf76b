package modes

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/rover/internal/gamepad"
	"github.com/banshee-data/rover/internal/monitoring"
)

// SpeedState is the manual drive speed selected with the toggle button.
type SpeedState int

const (
	SpeedSlow SpeedState = iota
	SpeedFast
)

func (s SpeedState) String() string {
	if s == SpeedFast {
		return "FAST"
	}
	return "SLOW"
}

// Toggle returns the other speed.
func (s SpeedState) Toggle() SpeedState {
	if s == SpeedFast {
		return SpeedSlow
	}
	return SpeedFast
}

// ManualConfig maps controller inputs to drive commands.
type ManualConfig struct {
	JoystickID     int
	ToggleButton   int
	ForwardButton  int
	BackwardButton int
	SteerAxis      int
	// Deadzone is the axis magnitude that must be exceeded before turning.
	Deadzone  float64
	SlowSpeed float64
	FastSpeed float64
	Poll      time.Duration
}

// DefaultManualConfig returns the PS-style controller mapping used on the rover.
func DefaultManualConfig() ManualConfig {
	return ManualConfig{
		ToggleButton:   0,
		ForwardButton:  7,
		BackwardButton: 6,
		SteerAxis:      0,
		Deadzone:       0.25,
		SlowSpeed:      0.8,
		FastSpeed:      1.0,
		Poll:           10 * time.Millisecond,
	}
}

// Manual drives from a gamepad: triggers for forward and backward, the left
// stick for turning, and a button to toggle between slow and fast.
type Manual struct {
	lifecycle
	deps   Deps
	cfg    ManualConfig
	opener gamepad.Opener
	pad    gamepad.Gamepad
	logf   func(string, ...interface{})

	speed         SpeedState
	togglePressed bool
}

// NewManual builds one manual control run.
func NewManual(deps Deps, opener gamepad.Opener, cfg ManualConfig) *Manual {
	return &Manual{
		deps:   deps,
		cfg:    cfg,
		opener: opener,
		speed:  SpeedSlow,
		logf:   monitoring.Component("manual"),
	}
}

func (m *Manual) Name() string { return "manual" }

// Prepare opens the configured controller.
func (m *Manual) Prepare() error {
	pad, err := m.opener(m.cfg.JoystickID)
	if err != nil {
		m.logf("no joystick detected: %v", err)
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}
	m.pad = pad
	m.logf("detected joystick: %s", pad.Name())
	return nil
}

// Speed returns the currently selected speed.
func (m *Manual) Speed() SpeedState { return m.speed }

// Run polls the controller until ctx is cancelled.
func (m *Manual) Run(ctx context.Context) error {
	m.set(StateRunning)
	m.logf("manual control mode started")
	defer m.shutdown()

	clock := m.deps.clock()
	for !cancelled(ctx) {
		st, err := m.pad.Read()
		if err != nil {
			m.logf("joystick read failed: %v", err)
			m.deps.Drive.Stop()
		} else {
			m.step(st)
		}
		clock.Sleep(m.cfg.Poll)
	}
	m.set(StateStopping)
	return nil
}

func (m *Manual) step(st gamepad.State) {
	if st.Button(m.cfg.ToggleButton) {
		if !m.togglePressed {
			m.speed = m.speed.Toggle()
			m.togglePressed = true
			m.logf("speed toggled to: %s", m.speed)
		}
	} else {
		m.togglePressed = false
	}

	d := m.deps.Drive
	speed := m.throttle()
	axis := st.Axis(m.cfg.SteerAxis)

	switch {
	case st.Button(m.cfg.ForwardButton):
		apply(d, m.logf, d.Forward(speed))
	case st.Button(m.cfg.BackwardButton):
		apply(d, m.logf, d.Backward(speed))
	case math.Abs(axis) > m.cfg.Deadzone && axis > 0:
		apply(d, m.logf, d.TurnRight(speed))
	case math.Abs(axis) > m.cfg.Deadzone:
		apply(d, m.logf, d.TurnLeft(speed))
	default:
		d.Stop()
	}
}

func (m *Manual) throttle() float64 {
	if m.speed == SpeedFast {
		return m.cfg.FastSpeed
	}
	return m.cfg.SlowSpeed
}

func (m *Manual) shutdown() {
	m.deps.Drive.Stop()
	if m.pad != nil {
		if err := m.pad.Close(); err != nil {
			m.logf("error closing joystick: %v", err)
		}
	}
	m.set(StateStopped)
	m.logf("manual control mode stopped")
}
