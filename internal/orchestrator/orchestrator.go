// Package orchestrator owns the single active control loop and switches
// between modes.
//
// A switch always stops the running loop and waits for it to exit before the
// next one is prepared, so two loops never command the motors at once.
// Switches are serialised; status reads never wait behind a switch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rover/internal/modes"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/motor"
	"github.com/banshee-data/rover/internal/timeutil"
)

// DefaultJoinTimeout bounds how long a switch waits for the old loop to exit.
const DefaultJoinTimeout = 5 * time.Second

var (
	// ErrStopTimeout is returned when the active loop did not exit within the
	// join timeout. The loop is left as the active one and nothing new starts.
	ErrStopTimeout = errors.New("timed out waiting for mode to stop")
	// ErrUnknownMode is returned for mode names or values with no loop.
	ErrUnknownMode = errors.New("unknown mode")
	// ErrClosed is returned by SwitchTo after Close.
	ErrClosed = errors.New("orchestrator closed")
	// ErrLoopPanic wraps a panic recovered from a loop goroutine.
	ErrLoopPanic = errors.New("control loop panicked")
)

// Event classifies a Transition.
type Event string

const (
	EventStarted       Event = "started"
	EventStopped       Event = "stopped"
	EventStartupFailed Event = "startup_failed"
	EventExited        Event = "exited"
)

// Transition describes one change of the active mode.
type Transition struct {
	RunID string
	From  Mode
	To    Mode
	Event Event
	Err   error
	At    time.Time
}

// Listener receives every Transition. Listeners are called synchronously with
// the switch lock held and must not call back into the Orchestrator.
type Listener interface {
	OnTransition(Transition)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(Transition)

func (f ListenerFunc) OnTransition(t Transition) { f(t) }

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Mode        Mode          `json:"mode"`
	RunID       string        `json:"run_id,omitempty"`
	State       string        `json:"state"`
	Since       time.Time     `json:"since"`
	LastAction  string        `json:"last_action"`
	LastCommand motor.Command `json:"last_command"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithListener subscribes l to transitions.
func WithListener(l Listener) Option {
	return func(o *Orchestrator) { o.listeners = append(o.listeners, l) }
}

// WithJoinTimeout overrides DefaultJoinTimeout. Non-positive values are
// ignored.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.joinTimeout = d
		}
	}
}

// WithClock sets the clock used to timestamp transitions.
func WithClock(c timeutil.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

type worker struct {
	mode   Mode
	runID  string
	loop   modes.Loop
	cancel context.CancelFunc
	done   chan struct{}
	since  time.Time
	err    error // valid once done is closed
}

// Orchestrator switches between control loops over a shared Drive.
type Orchestrator struct {
	drive       *motor.Drive
	factory     LoopFactory
	clock       timeutil.Clock
	joinTimeout time.Duration
	listeners   []Listener
	logf        func(string, ...interface{})

	mu     sync.Mutex // serialises switches
	active *worker
	closed bool

	viewMu    sync.RWMutex
	view      *worker
	idleSince time.Time
}

// New returns an idle Orchestrator.
func New(drive *motor.Drive, factory LoopFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		drive:       drive,
		factory:     factory,
		clock:       timeutil.RealClock{},
		joinTimeout: DefaultJoinTimeout,
		logf:        monitoring.Component("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.idleSince = o.clock.Now()
	return o
}

// SwitchTo stops the active loop, if any, and starts mode. Switching to the
// mode that is already running is a no-op. A loop that fails to prepare leaves
// the rover idle with the motors stopped, and the error wraps modes.ErrStartup.
func (o *Orchestrator) SwitchTo(mode Mode) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if mode == ModeIdle {
		return o.stopAllLocked()
	}
	if w := o.active; w != nil && w.mode == mode && !w.exited() {
		return nil
	}

	from := o.currentModeLocked()
	if err := o.stopLocked(); err != nil {
		return err
	}

	loop, err := o.factory(mode)
	if err != nil {
		o.drive.Stop()
		return fmt.Errorf("switch to %s: %w", mode, err)
	}

	runID := uuid.NewString()
	if err := prepare(mode, loop); err != nil {
		o.drive.Stop()
		o.logf("failed to start %s (%s): %v", mode, loop.Name(), err)
		o.emit(Transition{RunID: runID, From: from, To: ModeIdle, Event: EventStartupFailed, Err: err})
		return fmt.Errorf("switch to %s: %w", mode, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		mode:   mode,
		runID:  runID,
		loop:   loop,
		cancel: cancel,
		done:   make(chan struct{}),
		since:  o.clock.Now(),
	}
	o.setActive(w)
	o.logf("started %s with %s (run %s)", mode, loop.Name(), runID)
	// listeners see the start before any command from the new loop
	o.emit(Transition{RunID: runID, From: from, To: mode, Event: EventStarted})
	go o.run(ctx, w)
	return nil
}

// SwitchToManual switches to joystick control.
func (o *Orchestrator) SwitchToManual() error { return o.SwitchTo(ModeManual) }

// SwitchToObstacleAvoidance switches to ultrasonic obstacle avoidance.
func (o *Orchestrator) SwitchToObstacleAvoidance() error {
	return o.SwitchTo(ModeObstacleAvoidance)
}

// SwitchToLineFollowing switches to infrared line following.
func (o *Orchestrator) SwitchToLineFollowing() error { return o.SwitchTo(ModeLineFollowing) }

// StopAll stops the active loop and then the motors. It is safe to call when
// idle.
func (o *Orchestrator) StopAll() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopAllLocked()
}

// Close stops everything and rejects later switches.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	err := o.stopAllLocked()
	o.closed = true
	return err
}

// Active returns the running mode, or ModeIdle.
func (o *Orchestrator) Active() Mode {
	o.viewMu.RLock()
	defer o.viewMu.RUnlock()
	if o.view == nil {
		return ModeIdle
	}
	return o.view.mode
}

// Status returns the current mode, its run and the last motor command.
func (o *Orchestrator) Status() Status {
	o.viewMu.RLock()
	w, idleSince := o.view, o.idleSince
	o.viewMu.RUnlock()

	action, cmd := o.drive.Last()
	st := Status{
		Mode:        ModeIdle,
		State:       modes.StateStopped.String(),
		Since:       idleSince,
		LastAction:  action.String(),
		LastCommand: cmd,
	}
	if w != nil {
		st.Mode = w.mode
		st.RunID = w.runID
		st.State = w.loop.State().String()
		st.Since = w.since
	}
	return st
}

func (o *Orchestrator) stopAllLocked() error {
	err := o.stopLocked()
	o.drive.Stop()
	return err
}

// stopLocked cancels the active loop and waits up to joinTimeout for it.
func (o *Orchestrator) stopLocked() error {
	w := o.active
	if w == nil {
		return nil
	}

	w.cancel()
	timer := time.NewTimer(o.joinTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
	case <-timer.C:
		o.logf("%s did not stop within %v", w.mode, o.joinTimeout)
		return fmt.Errorf("%w: %s after %v", ErrStopTimeout, w.mode, o.joinTimeout)
	}

	o.setActive(nil)
	o.logf("stopped %s (run %s)", w.loop.Name(), w.runID)
	// listeners close the run before the final stop is journalled
	o.emit(Transition{RunID: w.runID, From: w.mode, To: ModeIdle, Event: EventStopped, Err: w.err})
	o.drive.Stop()
	return nil
}

// prepare runs loop.Prepare, reporting a panic as a startup failure.
func prepare(mode Mode, loop modes.Loop) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked during startup: %v", modes.ErrStartup, mode, r)
		}
	}()
	return loop.Prepare()
}

// run executes the loop on its own goroutine. A panic is contained here: the
// motors are stopped and the orchestrator returns to idle.
func (o *Orchestrator) run(ctx context.Context, w *worker) {
	defer o.reap(w)
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.err = fmt.Errorf("%w: %s: %v", ErrLoopPanic, w.mode, r)
			o.logf("%v", w.err)
			o.drive.Stop()
		}
	}()

	w.err = w.loop.Run(ctx)
}

// reap handles a loop that returned without being asked to stop.
func (o *Orchestrator) reap(w *worker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != w {
		return
	}
	w.cancel()
	o.setActive(nil)
	o.logf("%s exited on its own (run %s): %v", w.loop.Name(), w.runID, w.err)
	o.emit(Transition{RunID: w.runID, From: w.mode, To: ModeIdle, Event: EventExited, Err: w.err})
	o.drive.Stop()
}

func (o *Orchestrator) currentModeLocked() Mode {
	if o.active == nil {
		return ModeIdle
	}
	return o.active.mode
}

func (o *Orchestrator) setActive(w *worker) {
	o.active = w
	o.viewMu.Lock()
	o.view = w
	if w == nil {
		o.idleSince = o.clock.Now()
	}
	o.viewMu.Unlock()
}

func (o *Orchestrator) emit(t Transition) {
	t.At = o.clock.Now()
	for _, l := range o.listeners {
		l.OnTransition(t)
	}
}

func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
