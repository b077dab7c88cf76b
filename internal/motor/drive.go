// Package motor drives the rover's four wheels as a differential-drive pair.
//
// A Drive is constructed once per process around the hardware Throttler and is
// shared by every control loop. Drive does not serialise hardware access
// between callers: only one mode worker may issue commands at a time, which the
// orchestrator guarantees by fully stopping the previous worker before starting
// the next one.
package motor

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/rover/internal/monitoring"
)

// ErrInvalidSpeed is returned when a speed outside [0.0, 1.0] is requested.
var ErrInvalidSpeed = errors.New("invalid speed")

// TurnThrottle is the fixed throttle applied to the inner wheels while turning.
const TurnThrottle = 0.25

// Motor indices as wired on the motor HAT. The left wheels are motors 2 and 4,
// the right wheels motors 1 and 3.
const (
	Motor1 = 1
	Motor2 = 2
	Motor3 = 3
	Motor4 = 4
)

// Throttler is the opaque hardware primitive: set one motor's throttle, where
// the sign is direction and the magnitude is speed in [-1, 1].
type Throttler interface {
	SetThrottle(motor int, value float64) error
}

// Command holds the four per-wheel throttle values, indexed motor-1.
type Command [4]float64

// Action names the drive operation that produced a Command.
type Action int

const (
	ActionStop Action = iota
	ActionForward
	ActionBackward
	ActionTurnLeft
	ActionTurnRight
)

func (a Action) String() string {
	switch a {
	case ActionStop:
		return "stop"
	case ActionForward:
		return "forward"
	case ActionBackward:
		return "backward"
	case ActionTurnLeft:
		return "turn_left"
	case ActionTurnRight:
		return "turn_right"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Observer is notified after every command that reached the hardware.
type Observer interface {
	ObserveCommand(action Action, cmd Command)
}

// Option configures a Drive.
type Option func(*Drive)

// WithObserver attaches an observer (for example the telemetry journal).
func WithObserver(o Observer) Option {
	return func(d *Drive) { d.observers = append(d.observers, o) }
}

// Drive issues differential throttle commands to four motors.
type Drive struct {
	hw        Throttler
	observers []Observer
	logf      func(string, ...interface{})

	mu         sync.Mutex // guards last and lastAction only
	last       Command
	lastAction Action
}

// NewDrive returns a Drive backed by hw.
func NewDrive(hw Throttler, opts ...Option) *Drive {
	d := &Drive{hw: hw, logf: monitoring.Component("motor")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ValidateSpeed reports ErrInvalidSpeed unless 0.0 <= speed <= 1.0.
func ValidateSpeed(speed float64) error {
	if math.IsNaN(speed) || speed < 0.0 || speed > 1.0 {
		return fmt.Errorf("%w %v: speed must be between 0.0 and 1.0", ErrInvalidSpeed, speed)
	}
	return nil
}

// Forward sets all four wheels to +speed.
func (d *Drive) Forward(speed float64) error {
	if err := ValidateSpeed(speed); err != nil {
		return err
	}
	return d.apply(ActionForward, Command{speed, speed, speed, speed})
}

// Backward sets all four wheels to -speed.
func (d *Drive) Backward(speed float64) error {
	if err := ValidateSpeed(speed); err != nil {
		return err
	}
	return d.apply(ActionBackward, Command{-speed, -speed, -speed, -speed})
}

// TurnLeft pivots left: the left wheels run at TurnThrottle and the right
// wheels at speed.
func (d *Drive) TurnLeft(speed float64) error {
	if err := ValidateSpeed(speed); err != nil {
		return err
	}
	return d.apply(ActionTurnLeft, Command{speed, TurnThrottle, speed, TurnThrottle})
}

// TurnRight is the mirror of TurnLeft.
func (d *Drive) TurnRight(speed float64) error {
	if err := ValidateSpeed(speed); err != nil {
		return err
	}
	return d.apply(ActionTurnRight, Command{TurnThrottle, speed, TurnThrottle, speed})
}

// Stop sets every throttle to zero. It never fails: hardware errors are logged
// and the remaining motors are still commanded, so it is safe on any error path.
func (d *Drive) Stop() {
	if err := d.apply(ActionStop, Command{}); err != nil {
		d.logf("stop: %v", err)
	}
}

// Last returns the most recent command and the action that produced it.
func (d *Drive) Last() (Action, Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAction, d.last
}

func (d *Drive) apply(action Action, cmd Command) error {
	var errs []error
	for i, v := range cmd {
		if err := d.hw.SetThrottle(i+1, v); err != nil {
			errs = append(errs, fmt.Errorf("motor %d: %w", i+1, err))
		}
	}

	d.mu.Lock()
	d.last = cmd
	d.lastAction = action
	d.mu.Unlock()

	for _, o := range d.observers {
		o.ObserveCommand(action, cmd)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", action, errors.Join(errs...))
	}
	return nil
}
