package motor

import (
	"fmt"
	"sync"
)

// RecordingThrottler implements Throttler in memory. It backs the drive in dev
// mode and lets tests read back the throttle of every wheel.
type RecordingThrottler struct {
	mu       sync.Mutex
	throttle [4]float64
	writes   int

	// FailMotor, when non-zero, makes SetThrottle fail for that motor.
	FailMotor int
}

// NewRecordingThrottler returns a throttler with every motor at 0.0.
func NewRecordingThrottler() *RecordingThrottler {
	return &RecordingThrottler{}
}

// SetThrottle implements Throttler.
func (r *RecordingThrottler) SetThrottle(motor int, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if motor < Motor1 || motor > Motor4 {
		return fmt.Errorf("no such motor %d", motor)
	}
	if r.FailMotor == motor {
		return fmt.Errorf("motor %d not responding", motor)
	}
	r.throttle[motor-1] = value
	r.writes++
	return nil
}

// Throttles returns the current throttle of all four motors.
func (r *RecordingThrottler) Throttles() Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Command(r.throttle)
}

// Writes returns the number of successful SetThrottle calls.
func (r *RecordingThrottler) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// ActionRecorder is an Observer that keeps every command in order.
type ActionRecorder struct {
	mu       sync.Mutex
	actions  []Action
	commands []Command
}

// ObserveCommand implements Observer.
func (r *ActionRecorder) ObserveCommand(action Action, cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	r.commands = append(r.commands, cmd)
}

// Actions returns a copy of the recorded actions.
func (r *ActionRecorder) Actions() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Commands returns a copy of the recorded commands.
func (r *ActionRecorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Reset forgets everything recorded so far.
func (r *ActionRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = nil
	r.commands = nil
}
