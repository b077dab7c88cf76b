package modes

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/motor"
	"github.com/banshee-data/rover/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

type harness struct {
	hw       *motor.RecordingThrottler
	recorder *motor.ActionRecorder
	clock    *timeutil.MockClock
	deps     Deps
}

func newHarness() *harness {
	h := &harness{
		hw:       motor.NewRecordingThrottler(),
		recorder: &motor.ActionRecorder{},
		clock:    timeutil.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	h.deps = Deps{
		Drive: motor.NewDrive(h.hw, motor.WithObserver(h.recorder)),
		Clock: h.clock,
	}
	return h
}

// runUntilDone prepares and runs loop, failing the test if it does not
// return. The scripted input is expected to cancel ctx once it runs dry.
func runUntilDone(t *testing.T, ctx context.Context, loop Loop) {
	t.Helper()
	if err := loop.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	if got := loop.State(); got != StateStopped {
		t.Errorf("State() after Run = %v, want stopped", got)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateStopped:  "stopped",
		StateRunning:  "running",
		StateStopping: "stopping",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestRealClockUsedByDefault(t *testing.T) {
	if _, ok := (Deps{}).clock().(timeutil.RealClock); !ok {
		t.Error("zero Deps should fall back to the real clock")
	}
}
