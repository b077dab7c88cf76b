// Package modes implements the rover's control loops: obstacle avoidance,
// line following and manual joystick control.
//
// Each loop is built for a single run. Prepare acquires the loop's input
// device and must succeed before Run is started; Run cycles until its context
// is cancelled, checking the context at the top of every cycle, and always
// leaves the motors stopped and the device closed on return.
package modes

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/banshee-data/rover/internal/motor"
	"github.com/banshee-data/rover/internal/seriallink"
	"github.com/banshee-data/rover/internal/timeutil"
)

// ErrStartup is returned by Prepare when the loop's input device could not be
// acquired. A loop that failed to prepare never reaches StateRunning.
var ErrStartup = errors.New("mode startup failed")

// State is the lifecycle state of a loop.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Loop is one control loop run.
type Loop interface {
	Name() string
	Prepare() error
	Run(ctx context.Context) error
	State() State
}

// FrameSource is the sensor side of the serial link as the loops use it.
// *seriallink.Link and *seriallink.ScriptedLink both satisfy it.
type FrameSource interface {
	Open(path string, opts seriallink.PortOptions) error
	Close() error
	ReadDirection() seriallink.Direction
	ReadLineFrame() (seriallink.LineFrame, bool)
}

// Deps are the collaborators shared by every loop.
type Deps struct {
	Drive *motor.Drive
	Clock timeutil.Clock
}

func (d Deps) clock() timeutil.Clock {
	if d.Clock == nil {
		return timeutil.RealClock{}
	}
	return d.Clock
}

type lifecycle struct {
	state atomic.Int32
}

func (l *lifecycle) State() State { return State(l.state.Load()) }
func (l *lifecycle) set(s State)  { l.state.Store(int32(s)) }

func cancelled(ctx context.Context) bool { return ctx.Err() != nil }

// apply runs a drive command and falls back to Stop when it is rejected.
func apply(d *motor.Drive, logf func(string, ...interface{}), err error) {
	if err == nil {
		return
	}
	logf("motor command rejected: %v", err)
	d.Stop()
}
