package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/rover/internal/motor"
)

// motorStep is one leg of the self-test.
type motorStep struct {
	name string
	run  func(d *motor.Drive, speed float64) error
}

var motorSteps = []motorStep{
	{"Moving forward", (*motor.Drive).Forward},
	{"Moving backward", (*motor.Drive).Backward},
	{"Turning left", (*motor.Drive).TurnLeft},
	{"Turning right", (*motor.Drive).TurnRight},
}

// motorTestMain parses the motor-test flags and drives the HAT (or the
// recording throttler with -dev) through each direction.
func motorTestMain(args []string) error {
	fs := flag.NewFlagSet("motor-test", flag.ContinueOnError)
	speed := fs.Float64("speed", 0.8, "Throttle for every step, in [0, 1]")
	step := fs.Duration("step", 2*time.Second, "How long each direction runs")
	cfgPath := fs.String("config", "", "Path to a JSON rover config")
	dev := fs.Bool("dev", false, "Record commands instead of driving the HAT")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := motor.ValidateSpeed(*speed); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath, ".env")
	if err != nil {
		return err
	}
	hw, release, err := openThrottler(cfg, *dev)
	if err != nil {
		return fmt.Errorf("failed to open motors: %w", err)
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runMotorTest(ctx, motor.NewDrive(hw), *speed, *step)
}

// runMotorTest runs each motorStep for step and always leaves the motors
// stopped, including when ctx is cancelled part way.
func runMotorTest(ctx context.Context, d *motor.Drive, speed float64, step time.Duration) error {
	defer func() {
		log.Printf("Stopping motors...")
		d.Stop()
	}()

	log.Printf("Testing motors...")
	for _, s := range motorSteps {
		log.Printf("%s...", s.name)
		if err := s.run(d, speed); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}

		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("motor test interrupted")
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}
