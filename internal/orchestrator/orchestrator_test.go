package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/gamepad"
	"github.com/banshee-data/rover/internal/modes"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/motor"
	"github.com/banshee-data/rover/internal/seriallink"
	"github.com/banshee-data/rover/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// fakeLoop drives the motors with one command every millisecond until
// cancelled.
type fakeLoop struct {
	name       string
	drive      *motor.Drive
	command    func(*motor.Drive) error
	prepareErr error
	// preparePanics makes Prepare panic the way a misbehaving driver can.
	preparePanics bool
	panics        bool
	// exitAfter makes Run return on its own after that many cycles.
	exitAfter int
	// stuck makes Run ignore cancellation until released is closed.
	stuck    bool
	released chan struct{}

	state atomic.Int32
}

func (f *fakeLoop) Name() string { return f.name }

func (f *fakeLoop) Prepare() error {
	if f.preparePanics {
		panic("ioctl: inappropriate ioctl for device")
	}
	return f.prepareErr
}

func (f *fakeLoop) State() modes.State { return modes.State(f.state.Load()) }
func (f *fakeLoop) set(s modes.State)  { f.state.Store(int32(s)) }

func (f *fakeLoop) Run(ctx context.Context) error {
	f.set(modes.StateRunning)
	defer f.set(modes.StateStopped)
	if f.panics {
		panic("sensor exploded")
	}
	if f.stuck {
		<-f.released
		return nil
	}
	for i := 0; ctx.Err() == nil; i++ {
		if f.exitAfter > 0 && i >= f.exitAfter {
			return errors.New("input lost")
		}
		if err := f.command(f.drive); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

type fixture struct {
	recorder *motor.ActionRecorder
	drive    *motor.Drive
	loops    map[Mode]*fakeLoop
	events   *eventLog
	orch     *Orchestrator
}

type eventLog struct {
	mu          sync.Mutex
	transitions []Transition
}

func (e *eventLog) OnTransition(t Transition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitions = append(e.transitions, t)
}

func (e *eventLog) events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.transitions))
	for i, t := range e.transitions {
		out[i] = t.Event
	}
	return out
}

func (e *eventLog) last() Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transitions[len(e.transitions)-1]
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{recorder: &motor.ActionRecorder{}, events: &eventLog{}}
	f.drive = motor.NewDrive(motor.NewRecordingThrottler(), motor.WithObserver(f.recorder))
	f.loops = map[Mode]*fakeLoop{}
	f.loops[ModeManual] = &fakeLoop{name: "manual", command: func(d *motor.Drive) error { return d.Backward(0.5) }}
	f.loops[ModeObstacleAvoidance] = &fakeLoop{name: "obstacle", command: func(d *motor.Drive) error { return d.Forward(1) }}
	f.loops[ModeLineFollowing] = &fakeLoop{name: "line", command: func(d *motor.Drive) error { return d.TurnLeft(0.8) }}
	factory := func(mode Mode) (modes.Loop, error) {
		l, ok := f.loops[mode]
		if !ok {
			return nil, ErrUnknownMode
		}
		// loops are single use; hand out a fresh copy each time
		c := &fakeLoop{
			name: l.name, drive: f.drive, command: l.command, prepareErr: l.prepareErr,
			preparePanics: l.preparePanics, panics: l.panics, exitAfter: l.exitAfter, stuck: l.stuck, released: l.released,
		}
		return c, nil
	}
	opts = append([]Option{WithListener(f.events)}, opts...)
	f.orch = New(f.drive, factory, opts...)
	t.Cleanup(func() { f.orch.Close() })
	return f
}

// waitForCommands blocks until the drive has seen at least n commands.
func (f *fixture) waitForCommands(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(f.recorder.Actions()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d commands recorded, want %d", len(f.recorder.Actions()), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSwitchTo_StartsMode(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.SwitchToObstacleAvoidance())
	f.waitForCommands(t, 1)

	assert.Equal(t, ModeObstacleAvoidance, f.orch.Active())
	st := f.orch.Status()
	assert.Equal(t, ModeObstacleAvoidance, st.Mode)
	assert.NotEmpty(t, st.RunID)
	assert.Equal(t, []Event{EventStarted}, f.events.events())
}

func TestSwitchTo_StopsPreviousBeforeStarting(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.SwitchToObstacleAvoidance())
	f.waitForCommands(t, 3)
	require.NoError(t, f.orch.SwitchToLineFollowing())
	f.waitForCommands(t, len(f.recorder.Actions())+3)
	require.NoError(t, f.orch.StopAll())

	actions := f.recorder.Actions()
	firstLine := -1
	for i, a := range actions {
		if a == motor.ActionTurnLeft {
			firstLine = i
			break
		}
	}
	require.Greater(t, firstLine, 0, "line following never commanded the motors")
	assert.Equal(t, motor.ActionStop, actions[firstLine-1], "a stop must precede the new mode's first command")
	for _, a := range actions[firstLine:] {
		assert.NotEqual(t, motor.ActionForward, a, "old mode commanded the motors after the new one started")
	}

	assert.Equal(t, []Event{EventStarted, EventStopped, EventStarted, EventStopped}, f.events.events())
	assert.Equal(t, ModeIdle, f.orch.Active())
}

func TestSwitchTo_SameModeIsNoop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.SwitchToManual())
	runID := f.orch.Status().RunID
	require.NoError(t, f.orch.SwitchToManual())

	assert.Equal(t, runID, f.orch.Status().RunID)
	assert.Equal(t, []Event{EventStarted}, f.events.events())
}

func TestSwitchTo_StartupFailure(t *testing.T) {
	f := newFixture(t)
	f.loops[ModeLineFollowing].prepareErr = modes.ErrStartup

	require.NoError(t, f.orch.SwitchToObstacleAvoidance())
	f.waitForCommands(t, 1)

	err := f.orch.SwitchToLineFollowing()
	require.Error(t, err)
	assert.ErrorIs(t, err, modes.ErrStartup)
	assert.Equal(t, ModeIdle, f.orch.Active())

	actions := f.recorder.Actions()
	assert.Equal(t, motor.ActionStop, actions[len(actions)-1])
	assert.Equal(t, []Event{EventStarted, EventStopped, EventStartupFailed}, f.events.events())
	assert.ErrorIs(t, f.events.last().Err, modes.ErrStartup)
}

func TestSwitchTo_PreparePanicIsStartupFailure(t *testing.T) {
	f := newFixture(t)
	f.loops[ModeManual].preparePanics = true

	require.NoError(t, f.orch.SwitchToObstacleAvoidance())
	f.waitForCommands(t, 1)

	err := f.orch.SwitchToManual()
	require.Error(t, err)
	assert.ErrorIs(t, err, modes.ErrStartup)
	assert.Contains(t, err.Error(), "inappropriate ioctl")
	assert.Equal(t, ModeIdle, f.orch.Active())

	actions := f.recorder.Actions()
	assert.Equal(t, motor.ActionStop, actions[len(actions)-1])
	assert.Equal(t, []Event{EventStarted, EventStopped, EventStartupFailed}, f.events.events())
	assert.ErrorIs(t, f.events.last().Err, modes.ErrStartup)

	// the orchestrator is still usable
	require.NoError(t, f.orch.SwitchToLineFollowing())
	assert.Equal(t, ModeLineFollowing, f.orch.Active())
}

func TestStopAll_StoppedIsEmittedBeforeFinalStop(t *testing.T) {
	var (
		f      *fixture
		atStop = -1
	)
	f = newFixture(t, WithListener(ListenerFunc(func(tr Transition) {
		if tr.Event == EventStopped {
			atStop = len(f.recorder.Actions())
		}
	})))

	require.NoError(t, f.orch.SwitchToObstacleAvoidance())
	f.waitForCommands(t, 3)
	require.NoError(t, f.orch.StopAll())

	actions := f.recorder.Actions()
	require.GreaterOrEqual(t, atStop, 3)
	require.Greater(t, len(actions), atStop, "the motors must be stopped after the stopped event")
	for _, a := range actions[atStop:] {
		assert.Equal(t, motor.ActionStop, a)
	}
	for _, a := range actions[:atStop] {
		assert.Equal(t, motor.ActionForward, a, "the loop's own commands belong to its run")
	}
}

func TestSwitchTo_LogsLoopName(t *testing.T) {
	f := newFixture(t)
	f.loops[ModeLineFollowing].prepareErr = modes.ErrStartup
	var (
		mu    sync.Mutex
		lines []string
	)
	f.orch.logf = func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	}

	require.NoError(t, f.orch.SwitchToManual())
	require.NoError(t, f.orch.StopAll())
	require.Error(t, f.orch.SwitchToLineFollowing())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "started manual with manual (run "), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "stopped manual (run "), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "failed to start line_following (line): "), lines[2])
}

func TestSwitchTo_IdleStopsEverything(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.orch.SwitchToManual())
	require.NoError(t, f.orch.SwitchTo(ModeIdle))
	assert.Equal(t, ModeIdle, f.orch.Active())
}

func TestSwitchTo_UnknownMode(t *testing.T) {
	f := newFixture(t)
	err := f.orch.SwitchTo(Mode(42))
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.Equal(t, ModeIdle, f.orch.Active())
}

func TestStopAll_WhenIdle(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.orch.StopAll())
	}
	assert.Equal(t, ModeIdle, f.orch.Active())
	assert.Empty(t, f.events.events(), "stopping an idle orchestrator is not a transition")
	for _, a := range f.recorder.Actions() {
		assert.Equal(t, motor.ActionStop, a)
	}
}

func TestStopAll_Timeout(t *testing.T) {
	f := newFixture(t, WithJoinTimeout(20*time.Millisecond))
	released := make(chan struct{})
	f.loops[ModeManual].stuck = true
	f.loops[ModeManual].released = released

	require.NoError(t, f.orch.SwitchToManual())

	err := f.orch.SwitchToObstacleAvoidance()
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Equal(t, ModeManual, f.orch.Active(), "a loop that will not stop stays active")

	close(released)
	waitFor(t, func() bool { return f.orch.Active() == ModeIdle })
	waitFor(t, func() bool { return f.events.last().Event == EventExited })
}

func TestWithJoinTimeout_IgnoresNonPositive(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		f := newFixture(t, WithJoinTimeout(d))
		assert.Equal(t, DefaultJoinTimeout, f.orch.joinTimeout, "WithJoinTimeout(%v)", d)
	}
	f := newFixture(t, WithJoinTimeout(time.Second))
	assert.Equal(t, time.Second, f.orch.joinTimeout)
}

func TestLoopExitingOnItsOwnReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	f.loops[ModeObstacleAvoidance].exitAfter = 2

	require.NoError(t, f.orch.SwitchToObstacleAvoidance())
	waitFor(t, func() bool { return f.orch.Active() == ModeIdle })
	waitFor(t, func() bool { return f.events.last().Event == EventExited })

	assert.EqualError(t, f.events.last().Err, "input lost")
	waitFor(t, func() bool {
		actions := f.recorder.Actions()
		return actions[len(actions)-1] == motor.ActionStop
	})
}

func TestLoopPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.loops[ModeManual].panics = true

	require.NoError(t, f.orch.SwitchToManual())
	waitFor(t, func() bool { return f.orch.Active() == ModeIdle })
	waitFor(t, func() bool { return f.events.last().Event == EventExited })

	assert.ErrorIs(t, f.events.last().Err, ErrLoopPanic)

	// the orchestrator is still usable
	require.NoError(t, f.orch.SwitchToLineFollowing())
	assert.Equal(t, ModeLineFollowing, f.orch.Active())
}

func TestClose_RejectsSwitches(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.SwitchToManual())
	require.NoError(t, f.orch.Close())

	assert.ErrorIs(t, f.orch.SwitchToManual(), ErrClosed)
	assert.Equal(t, ModeIdle, f.orch.Active())
}

func TestTransitionsAreTimestamped(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(timeutil.NewMockClock(start)))

	require.NoError(t, f.orch.SwitchToManual())
	assert.Equal(t, start, f.events.last().At)
	assert.Equal(t, start, f.orch.Status().Since)
}

func TestLoopsFactory_WithRealLoops(t *testing.T) {
	recorder := &motor.ActionRecorder{}
	drive := motor.NewDrive(motor.NewRecordingThrottler(), motor.WithObserver(recorder))

	lineCfg := modes.DefaultLineConfig()
	lineCfg.Interval = time.Millisecond
	obstacleCfg := modes.DefaultObstacleConfig()
	obstacleCfg.Hold = time.Millisecond

	loops := Loops{
		Deps: modes.Deps{Drive: drive},
		NewLink: func(Mode) modes.FrameSource {
			link := seriallink.NewScriptedLink("0,1,0")
			link.Repeat = true
			return link
		},
		Gamepad:  gamepad.MissingOpener(),
		Obstacle: obstacleCfg,
		Line:     lineCfg,
		Manual:   modes.DefaultManualConfig(),
	}
	orch := New(drive, loops.Factory())
	defer orch.Close()

	require.NoError(t, orch.SwitchToLineFollowing())
	waitFor(t, func() bool { return len(recorder.Actions()) > 2 })
	assert.Equal(t, ModeLineFollowing, orch.Active())

	err := orch.SwitchToManual()
	assert.ErrorIs(t, err, modes.ErrStartup)
	assert.ErrorIs(t, err, gamepad.ErrNoGamepad)
	assert.Equal(t, ModeIdle, orch.Active())

	_, err = loops.Factory()(ModeIdle)
	assert.ErrorIs(t, err, ErrUnknownMode)
}
