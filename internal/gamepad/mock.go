package gamepad

import (
	"errors"
	"sync"
)

// Press returns a button mask with the given buttons held.
func Press(buttons ...int) uint32 {
	var mask uint32
	for _, b := range buttons {
		mask |= 1 << uint(b)
	}
	return mask
}

// ScriptedGamepad replays a fixed list of states, one per Read. After the
// last state OnExhausted is called once and the final state is repeated.
type ScriptedGamepad struct {
	mu          sync.Mutex
	states      []State
	next        int
	closed      bool
	ReadError   error
	OnExhausted func()
	exhausted   bool
}

// NewScriptedGamepad returns a gamepad that replays states.
func NewScriptedGamepad(states ...State) *ScriptedGamepad {
	return &ScriptedGamepad{states: states}
}

func (g *ScriptedGamepad) Name() string { return "scripted gamepad" }

func (g *ScriptedGamepad) Read() (State, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return State{}, errors.New("gamepad closed")
	}
	if g.ReadError != nil {
		err := g.ReadError
		g.mu.Unlock()
		return State{}, err
	}
	if len(g.states) == 0 {
		g.mu.Unlock()
		return State{}, nil
	}

	idx := g.next
	if idx >= len(g.states) {
		idx = len(g.states) - 1
	} else {
		g.next++
	}
	st := g.states[idx]
	fire := g.next == len(g.states) && !g.exhausted
	if fire {
		g.exhausted = true
	}
	hook := g.OnExhausted
	g.mu.Unlock()

	if fire && hook != nil {
		hook()
	}
	return st, nil
}

func (g *ScriptedGamepad) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (g *ScriptedGamepad) IsClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// StaticOpener returns an Opener that always hands out g.
func StaticOpener(g Gamepad) Opener {
	return func(int) (Gamepad, error) { return g, nil }
}

// MissingOpener returns an Opener that reports no controller.
func MissingOpener() Opener {
	return func(int) (Gamepad, error) { return nil, ErrNoGamepad }
}
