// Package gamepad reads the handheld controller used in manual mode.
package gamepad

import (
	"errors"
	"fmt"

	"github.com/0xcafed00d/joystick"
)

// ErrNoGamepad is returned when no controller is present at the requested index.
var ErrNoGamepad = errors.New("no gamepad detected")

// axisScale is the magnitude the kernel joystick API reports at full deflection.
const axisScale = 32767.0

// State is one snapshot of the controller. Axes are normalised to [-1, 1].
type State struct {
	Buttons uint32
	Axes    []float64
}

// Button reports whether button i is held.
func (s State) Button(i int) bool {
	if i < 0 || i >= 32 {
		return false
	}
	return s.Buttons&(1<<uint(i)) != 0
}

// Axis returns axis i, or 0 when the controller has no such axis.
func (s State) Axis(i int) float64 {
	if i < 0 || i >= len(s.Axes) {
		return 0
	}
	return s.Axes[i]
}

// Gamepad is a polled controller.
type Gamepad interface {
	Name() string
	Read() (State, error)
	Close() error
}

// Opener opens the controller at index id.
type Opener func(id int) (Gamepad, error)

type device struct {
	js joystick.Joystick
}

// Open opens controller id through the Linux joystick interface.
func Open(id int) (Gamepad, error) {
	return openWith(joystick.Open, id)
}

// openWith opens id with open. The joystick driver panics when a device node
// exists but rejects the joystick ioctls; that is reported as ErrNoGamepad.
func openWith(open func(int) (joystick.Joystick, error), id int) (pad Gamepad, err error) {
	defer func() {
		if r := recover(); r != nil {
			pad, err = nil, fmt.Errorf("%w at index %d: %v", ErrNoGamepad, id, r)
		}
	}()

	js, err := open(id)
	if err != nil {
		return nil, fmt.Errorf("%w at index %d: %v", ErrNoGamepad, id, err)
	}
	return &device{js: js}, nil
}

func (d *device) Name() string {
	return d.js.Name()
}

func (d *device) Read() (State, error) {
	raw, err := d.js.Read()
	if err != nil {
		return State{}, err
	}
	return normalise(raw), nil
}

func (d *device) Close() error {
	d.js.Close()
	return nil
}

func normalise(raw joystick.State) State {
	axes := make([]float64, len(raw.AxisData))
	for i, v := range raw.AxisData {
		f := float64(v) / axisScale
		if f < -1 {
			f = -1
		}
		if f > 1 {
			f = 1
		}
		axes[i] = f
	}
	return State{Buttons: raw.Buttons, Axes: axes}
}
