package motor

import (
	"fmt"
	"math"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// DefaultHATAddress is the I2C address of an unmodified DC motor HAT.
const DefaultHATAddress uint16 = 0x60

// hatPWMFrequency matches the frequency the HAT's reference driver uses for DC
// motors.
const hatPWMFrequency = 1600 * physic.Hertz

// pca9685 duty registers are 12 bit.
const hatDutyMax = 4095

// hatChannel maps one motor terminal to its PCA9685 channels.
type hatChannel struct {
	pwm, in1, in2 int
}

var hatChannels = [4]hatChannel{
	{pwm: 8, in1: 10, in2: 9},
	{pwm: 13, in1: 11, in2: 12},
	{pwm: 2, in1: 4, in2: 3},
	{pwm: 7, in1: 5, in2: 6},
}

// HAT drives the four DC motor terminals of a PCA9685-based motor HAT.
type HAT struct {
	bus i2c.BusCloser
	dev *pca9685.Dev
}

// NewHAT initialises the host drivers, opens the named I2C bus ("" selects the
// first one) and configures the PWM controller at addr.
func NewHAT(busName string, addr uint16) (*HAT, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise host drivers: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", busName, err)
	}
	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to open motor HAT at %#x: %w", addr, err)
	}
	if err := dev.SetPwmFreq(hatPWMFrequency); err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to set PWM frequency: %w", err)
	}
	return &HAT{bus: bus, dev: dev}, nil
}

// SetThrottle implements Throttler.
func (h *HAT) SetThrottle(motor int, value float64) error {
	if motor < Motor1 || motor > Motor4 {
		return fmt.Errorf("no such motor %d", motor)
	}
	ch := hatChannels[motor-1]
	value = math.Max(-1, math.Min(1, value))

	switch {
	case value > 0:
		if err := h.dev.SetFullOn(ch.in1); err != nil {
			return err
		}
		if err := h.dev.SetFullOff(ch.in2); err != nil {
			return err
		}
	case value < 0:
		if err := h.dev.SetFullOff(ch.in1); err != nil {
			return err
		}
		if err := h.dev.SetFullOn(ch.in2); err != nil {
			return err
		}
	default:
		// release: both inputs low lets the motor coast to a stop
		if err := h.dev.SetFullOff(ch.in1); err != nil {
			return err
		}
		if err := h.dev.SetFullOff(ch.in2); err != nil {
			return err
		}
	}

	duty := gpio.Duty(math.Round(math.Abs(value) * hatDutyMax))
	return h.dev.SetPwm(ch.pwm, 0, duty)
}

// Close releases every motor and closes the I2C bus.
func (h *HAT) Close() error {
	for m := Motor1; m <= Motor4; m++ {
		_ = h.SetThrottle(m, 0)
	}
	return h.bus.Close()
}
