package motor

import (
	"errors"
	"math"
	"testing"
)

func TestForward_AllWheelsAtSpeed(t *testing.T) {
	for _, s := range []float64{0.0, 0.25, 0.5, 0.8, 1.0} {
		hw := NewRecordingThrottler()
		d := NewDrive(hw)
		if err := d.Forward(s); err != nil {
			t.Fatalf("Forward(%v) error = %v", s, err)
		}
		if got, want := hw.Throttles(), (Command{s, s, s, s}); got != want {
			t.Errorf("Forward(%v) throttles = %v, want %v", s, got, want)
		}
	}
}

func TestDrive_RejectsOutOfRangeSpeed(t *testing.T) {
	invalid := []float64{-0.01, -1, 1.01, 2, math.NaN(), math.Inf(1)}
	ops := map[string]func(*Drive, float64) error{
		"forward":    (*Drive).Forward,
		"backward":   (*Drive).Backward,
		"turn_left":  (*Drive).TurnLeft,
		"turn_right": (*Drive).TurnRight,
	}

	for name, op := range ops {
		for _, s := range invalid {
			hw := NewRecordingThrottler()
			d := NewDrive(hw)
			if err := d.Forward(0.5); err != nil {
				t.Fatalf("setup Forward: %v", err)
			}
			writes := hw.Writes()

			err := op(d, s)
			if !errors.Is(err, ErrInvalidSpeed) {
				t.Errorf("%s(%v) error = %v, want ErrInvalidSpeed", name, s, err)
			}
			if hw.Writes() != writes {
				t.Errorf("%s(%v) touched the hardware", name, s)
			}
			if got := hw.Throttles(); got != (Command{0.5, 0.5, 0.5, 0.5}) {
				t.Errorf("%s(%v) changed throttles to %v", name, s, got)
			}
		}
	}
}

func TestDrive_Commands(t *testing.T) {
	tests := []struct {
		name   string
		run    func(*Drive) error
		want   Command
		action Action
	}{
		{"backward", func(d *Drive) error { return d.Backward(0.8) }, Command{-0.8, -0.8, -0.8, -0.8}, ActionBackward},
		{"turn left", func(d *Drive) error { return d.TurnLeft(0.8) }, Command{0.8, TurnThrottle, 0.8, TurnThrottle}, ActionTurnLeft},
		{"turn right", func(d *Drive) error { return d.TurnRight(0.8) }, Command{TurnThrottle, 0.8, TurnThrottle, 0.8}, ActionTurnRight},
		{"stop", func(d *Drive) error { d.Stop(); return nil }, Command{}, ActionStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hw := NewRecordingThrottler()
			d := NewDrive(hw)
			if err := d.Forward(1); err != nil {
				t.Fatal(err)
			}
			if err := tt.run(d); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := hw.Throttles(); got != tt.want {
				t.Errorf("throttles = %v, want %v", got, tt.want)
			}
			action, cmd := d.Last()
			if action != tt.action || cmd != tt.want {
				t.Errorf("Last() = %v %v, want %v %v", action, cmd, tt.action, tt.want)
			}
		})
	}
}

func TestDrive_Idempotent(t *testing.T) {
	hw := NewRecordingThrottler()
	d := NewDrive(hw)
	for i := 0; i < 3; i++ {
		if err := d.TurnLeft(0.6); err != nil {
			t.Fatal(err)
		}
	}
	if got := hw.Throttles(); got != (Command{0.6, TurnThrottle, 0.6, TurnThrottle}) {
		t.Errorf("throttles = %v after repeated TurnLeft", got)
	}
	d.Stop()
	d.Stop()
	if got := hw.Throttles(); got != (Command{}) {
		t.Errorf("throttles = %v after repeated Stop", got)
	}
}

func TestStop_NeverFailsOnHardwareError(t *testing.T) {
	hw := NewRecordingThrottler()
	d := NewDrive(hw)
	if err := d.Forward(1); err != nil {
		t.Fatal(err)
	}
	hw.FailMotor = Motor2

	d.Stop()

	// the healthy motors are still stopped
	got := hw.Throttles()
	if got[0] != 0 || got[2] != 0 || got[3] != 0 {
		t.Errorf("throttles = %v, want healthy motors stopped", got)
	}
}

func TestForward_ReportsHardwareError(t *testing.T) {
	hw := NewRecordingThrottler()
	hw.FailMotor = Motor3
	d := NewDrive(hw)
	err := d.Forward(1)
	if err == nil {
		t.Fatal("expected hardware error")
	}
	if errors.Is(err, ErrInvalidSpeed) {
		t.Error("hardware error must not look like ErrInvalidSpeed")
	}
}

func TestDrive_NotifiesObservers(t *testing.T) {
	rec := &ActionRecorder{}
	d := NewDrive(NewRecordingThrottler(), WithObserver(rec))

	_ = d.Forward(1)
	_ = d.TurnRight(0.8)
	_ = d.Forward(7) // rejected, not observed
	d.Stop()

	want := []Action{ActionForward, ActionTurnRight, ActionStop}
	got := rec.Actions()
	if len(got) != len(want) {
		t.Fatalf("observed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAction_String(t *testing.T) {
	if ActionTurnLeft.String() != "turn_left" {
		t.Errorf("ActionTurnLeft.String() = %q", ActionTurnLeft.String())
	}
	if Action(42).String() != "action(42)" {
		t.Errorf("unknown action String() = %q", Action(42).String())
	}
}
