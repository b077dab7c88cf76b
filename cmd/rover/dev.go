package main

import (
	"github.com/banshee-data/rover/internal/gamepad"
	"github.com/banshee-data/rover/internal/modes"
	"github.com/banshee-data/rover/internal/orchestrator"
	"github.com/banshee-data/rover/internal/seriallink"
)

// Sensor scripts replayed in dev mode. They loop for as long as the mode runs.
var (
	devObstacleScript = []string{"Clear", "Clear", "L", "Clear", "R", "Clear", "B", "Obstructed"}
	devLineScript     = []string{"0,1,0", "0,1,0", "1,0,0", "0,1,0", "0,0,1", "0,1,0", "0,0,0"}
)

// devLink returns a looping scripted link for mode.
func devLink(mode orchestrator.Mode) modes.FrameSource {
	script := devLineScript
	if mode == orchestrator.ModeObstacleAvoidance {
		script = devObstacleScript
	}
	link := seriallink.NewScriptedLink(script...)
	link.Repeat = true
	return link
}

// devGamepad opens a fresh scripted controller on every manual run: a couple
// of seconds straight ahead, a second turning left on the stick, then hands
// off the controls.
func devGamepad(cfg modes.ManualConfig) gamepad.Opener {
	ahead := gamepad.State{Buttons: gamepad.Press(cfg.ForwardButton)}
	left := gamepad.State{Axes: axisAt(cfg.SteerAxis, -1)}

	return func(int) (gamepad.Gamepad, error) {
		var states []gamepad.State
		for i := 0; i < 200; i++ {
			states = append(states, ahead)
		}
		for i := 0; i < 100; i++ {
			states = append(states, left)
		}
		states = append(states, gamepad.State{})
		return gamepad.NewScriptedGamepad(states...), nil
	}
}

func axisAt(axis int, v float64) []float64 {
	if axis < 0 {
		return nil
	}
	axes := make([]float64, axis+1)
	axes[axis] = v
	return axes
}
