package modes

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/seriallink"
)

// ObstacleConfig tunes the obstacle avoidance loop.
type ObstacleConfig struct {
	PortPath string
	Serial   seriallink.PortOptions
	// CruiseSpeed is used when the path ahead is clear.
	CruiseSpeed float64
	// ManoeuvreSpeed is used when turning or reversing away from an obstacle.
	ManoeuvreSpeed float64
	// Hold is how long each decision is held before the next reading.
	Hold time.Duration
}

// DefaultObstacleConfig returns the tuning used on the rover.
func DefaultObstacleConfig() ObstacleConfig {
	return ObstacleConfig{
		PortPath:       seriallink.DefaultPortPath,
		Serial:         seriallink.PortOptions{BaudRate: seriallink.DefaultBaudRate, ReadTimeout: seriallink.DefaultReadTimeout},
		CruiseSpeed:    1.0,
		ManoeuvreSpeed: 0.8,
		Hold:           500 * time.Millisecond,
	}
}

// ObstacleAvoidance drives on the ultrasonic verdicts pushed by the sensor
// microcontroller.
type ObstacleAvoidance struct {
	lifecycle
	deps Deps
	cfg  ObstacleConfig
	link FrameSource
	logf func(string, ...interface{})
}

// NewObstacleAvoidance builds one obstacle avoidance run over link.
func NewObstacleAvoidance(deps Deps, link FrameSource, cfg ObstacleConfig) *ObstacleAvoidance {
	return &ObstacleAvoidance{
		deps: deps,
		cfg:  cfg,
		link: link,
		logf: monitoring.Component("obstacle"),
	}
}

func (o *ObstacleAvoidance) Name() string { return "obstacle_avoidance" }

// Prepare opens the serial link.
func (o *ObstacleAvoidance) Prepare() error {
	if err := o.link.Open(o.cfg.PortPath, o.cfg.Serial); err != nil {
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}
	return nil
}

// Run acts on the latest verdict each cycle until ctx is cancelled.
func (o *ObstacleAvoidance) Run(ctx context.Context) error {
	o.set(StateRunning)
	o.logf("autonomous mode started")
	defer o.shutdown()

	for !cancelled(ctx) {
		o.step(o.link.ReadDirection())
	}
	o.set(StateStopping)
	return nil
}

func (o *ObstacleAvoidance) step(dir seriallink.Direction) {
	d := o.deps.Drive
	clock := o.deps.clock()

	switch dir {
	case seriallink.DirectionClear:
		apply(d, o.logf, d.Forward(o.cfg.CruiseSpeed))
		clock.Sleep(o.cfg.Hold)
	case seriallink.DirectionLeft:
		d.Stop()
		apply(d, o.logf, d.TurnLeft(o.cfg.ManoeuvreSpeed))
		clock.Sleep(o.cfg.Hold)
	case seriallink.DirectionRight:
		d.Stop()
		apply(d, o.logf, d.TurnRight(o.cfg.ManoeuvreSpeed))
		clock.Sleep(o.cfg.Hold)
	case seriallink.DirectionBack:
		d.Stop()
		apply(d, o.logf, d.Backward(o.cfg.ManoeuvreSpeed))
		clock.Sleep(o.cfg.Hold)
	case seriallink.DirectionObstructed:
		d.Stop()
		o.logf("all paths obstructed, waiting")
		clock.Sleep(o.cfg.Hold)
	default:
		d.Stop()
		o.logf("unknown command, stopping")
	}
}

func (o *ObstacleAvoidance) shutdown() {
	o.deps.Drive.Stop()
	if err := o.link.Close(); err != nil {
		o.logf("error closing serial link: %v", err)
	}
	o.set(StateStopped)
	o.logf("autonomous mode stopped")
}
