package seriallink

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// InputResetter is implemented by ports that can discard bytes the driver has
// buffered but nobody has read yet.
type InputResetter interface {
	ResetInputBuffer() error
}

// SerialPortOpener opens the serial port at path. It is injected into Link so
// tests and dev mode can replace the hardware.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)
