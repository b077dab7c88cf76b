package orchestrator

import (
	"fmt"
	"strings"
)

// Mode is the rover's operating mode. Exactly one is active at a time;
// ModeIdle means no control loop is running.
type Mode int

const (
	ModeIdle Mode = iota
	ModeManual
	ModeObstacleAvoidance
	ModeLineFollowing
)

// Modes lists every mode that runs a control loop.
var Modes = []Mode{ModeManual, ModeObstacleAvoidance, ModeLineFollowing}

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeManual:
		return "manual"
	case ModeObstacleAvoidance:
		return "obstacle_avoidance"
	case ModeLineFollowing:
		return "line_following"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts the canonical names plus the short forms used by the
// HTTP API.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle", "stop", "none":
		return ModeIdle, nil
	case "manual":
		return ModeManual, nil
	case "obstacle", "obstacle_avoidance", "autonomous":
		return ModeObstacleAvoidance, nil
	case "line", "line_following":
		return ModeLineFollowing, nil
	default:
		return ModeIdle, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler so modes render by name in
// JSON responses.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
