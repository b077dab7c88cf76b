package modes

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/seriallink"
)

// LineConfig tunes the line following loop.
type LineConfig struct {
	PortPath    string
	Serial      seriallink.PortOptions
	CruiseSpeed float64
	TurnSpeed   float64
	// Interval is the pause between cycles, applied on every branch.
	Interval time.Duration
}

// DefaultLineConfig returns the tuning used on the rover.
func DefaultLineConfig() LineConfig {
	return LineConfig{
		PortPath:    seriallink.DefaultPortPath,
		Serial:      seriallink.PortOptions{BaudRate: seriallink.DefaultBaudRate, ReadTimeout: seriallink.DefaultReadTimeout},
		CruiseSpeed: 1.0,
		TurnSpeed:   0.8,
		Interval:    100 * time.Millisecond,
	}
}

// LineFollowing steers from the three infrared line sensors.
type LineFollowing struct {
	lifecycle
	deps Deps
	cfg  LineConfig
	link FrameSource
	logf func(string, ...interface{})
}

// NewLineFollowing builds one line following run over link.
func NewLineFollowing(deps Deps, link FrameSource, cfg LineConfig) *LineFollowing {
	return &LineFollowing{
		deps: deps,
		cfg:  cfg,
		link: link,
		logf: monitoring.Component("line"),
	}
}

func (l *LineFollowing) Name() string { return "line_following" }

// Prepare opens the serial link.
func (l *LineFollowing) Prepare() error {
	if err := l.link.Open(l.cfg.PortPath, l.cfg.Serial); err != nil {
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}
	return nil
}

// Run steers on the latest sensor frame each cycle until ctx is cancelled.
func (l *LineFollowing) Run(ctx context.Context) error {
	l.set(StateRunning)
	l.logf("line following mode started")
	defer l.shutdown()

	clock := l.deps.clock()
	for !cancelled(ctx) {
		frame, ok := l.link.ReadLineFrame()
		l.step(frame, ok)
		clock.Sleep(l.cfg.Interval)
	}
	l.set(StateStopping)
	return nil
}

// step applies the sensor priority: center wins, then a lone left or right.
func (l *LineFollowing) step(frame seriallink.LineFrame, ok bool) {
	d := l.deps.Drive
	switch {
	case !ok:
		d.Stop()
	case frame.Center:
		apply(d, l.logf, d.Forward(l.cfg.CruiseSpeed))
	case frame.Left:
		apply(d, l.logf, d.TurnLeft(l.cfg.TurnSpeed))
	case frame.Right:
		apply(d, l.logf, d.TurnRight(l.cfg.TurnSpeed))
	default:
		d.Stop()
	}
}

func (l *LineFollowing) shutdown() {
	l.deps.Drive.Stop()
	if err := l.link.Close(); err != nil {
		l.logf("error closing serial link: %v", err)
	}
	l.set(StateStopped)
	l.logf("line following mode stopped")
}
