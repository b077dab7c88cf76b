package orchestrator

import (
	"fmt"

	"github.com/banshee-data/rover/internal/gamepad"
	"github.com/banshee-data/rover/internal/modes"
)

// LoopFactory builds a fresh loop for mode. The orchestrator calls it once per
// switch; loops are never reused across runs.
type LoopFactory func(mode Mode) (modes.Loop, error)

// Loops holds everything needed to build the three control loops.
type Loops struct {
	Deps modes.Deps
	// NewLink returns a fresh serial link for one run of a sensor-driven mode.
	NewLink func(mode Mode) modes.FrameSource
	Gamepad gamepad.Opener

	Obstacle modes.ObstacleConfig
	Line     modes.LineConfig
	Manual   modes.ManualConfig
}

// Factory returns a LoopFactory over l.
func (l Loops) Factory() LoopFactory {
	return func(mode Mode) (modes.Loop, error) {
		switch mode {
		case ModeManual:
			return modes.NewManual(l.Deps, l.Gamepad, l.Manual), nil
		case ModeObstacleAvoidance:
			return modes.NewObstacleAvoidance(l.Deps, l.NewLink(mode), l.Obstacle), nil
		case ModeLineFollowing:
			return modes.NewLineFollowing(l.Deps, l.NewLink(mode), l.Line), nil
		default:
			return nil, fmt.Errorf("%w: no loop for %s", ErrUnknownMode, mode)
		}
	}
}
