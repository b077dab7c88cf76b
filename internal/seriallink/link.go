// Package seriallink reads the line-oriented protocol pushed by the rover's
// sensor microcontroller.
//
// The microcontroller is not synchronised with the control loops, so a Link
// keeps only the freshest complete line: every line received between two
// ReadFrame calls replaces the previous one, and ReadFrame never waits longer
// than the configured read timeout.
package seriallink

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/banshee-data/rover/internal/monitoring"
)

// ErrOpenFailed wraps the driver error when the port cannot be opened.
var ErrOpenFailed = errors.New("failed to open serial link")

// maxLineLength bounds a partial line; a device that never sends a newline
// must not grow the buffer forever.
const maxLineLength = 4096

// Link is a single-consumer serial connection to the sensor microcontroller.
type Link struct {
	opener SerialPortOpener
	logf   func(string, ...interface{})

	mu      sync.Mutex
	port    SerialPorter
	path    string
	timeout time.Duration
	latest  chan string
	closed  chan struct{}
	done    chan struct{}
}

// NewLink returns a closed link that opens ports with opener.
func NewLink(opener SerialPortOpener) *Link {
	return &Link{
		opener: opener,
		logf:   monitoring.Component("serial"),
	}
}

// Open connects to the port at path. On failure the error is logged, the link
// stays closed, and the wrapped error is returned for the caller to report.
// Opening an already open link is an error.
func (l *Link) Open(path string, opts PortOptions) error {
	opts, err := opts.Normalise()
	if err != nil {
		l.logf("invalid options for %s: %v", path, err)
		return fmt.Errorf("%w %s: %v", ErrOpenFailed, path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != nil {
		return fmt.Errorf("%w %s: already open on %s", ErrOpenFailed, path, l.path)
	}

	port, err := l.opener(path, opts)
	if err != nil {
		l.logf("error initialising serial communication on %s: %v", path, err)
		return fmt.Errorf("%w %s: %w", ErrOpenFailed, path, err)
	}

	if tp, ok := port.(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(opts.ReadTimeout); err != nil {
			l.logf("failed to set read timeout on %s: %v", path, err)
		}
	}
	// anything queued before we connected is stale
	if rp, ok := port.(InputResetter); ok {
		if err := rp.ResetInputBuffer(); err != nil {
			l.logf("failed to reset input buffer on %s: %v", path, err)
		}
	}

	l.port = port
	l.path = path
	l.timeout = opts.ReadTimeout
	l.latest = make(chan string, 1)
	l.closed = make(chan struct{})
	l.done = make(chan struct{})

	go l.readLoop(port, l.latest, l.closed, l.done)

	l.logf("connected to %s at %d baud", path, opts.BaudRate)
	return nil
}

// IsOpen reports whether the link currently holds an open port.
func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// ReadFrame returns the freshest line received since the previous call,
// trimmed of surrounding whitespace. It returns ("", false) immediately on a
// closed link, and after at most the read timeout when nothing arrived.
func (l *Link) ReadFrame() (string, bool) {
	l.mu.Lock()
	port, latest, closed, timeout := l.port, l.latest, l.closed, l.timeout
	l.mu.Unlock()

	if port == nil {
		return "", false
	}

	select {
	case line := <-latest:
		return line, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-latest:
		return line, true
	case <-timer.C:
		return "", false
	case <-closed:
		return "", false
	}
}

// ReadDirection reads one obstacle-avoidance token. Missing data decodes as
// DirectionUnknown.
func (l *Link) ReadDirection() Direction {
	line, ok := l.ReadFrame()
	if !ok {
		return DirectionUnknown
	}
	return ParseDirection(line)
}

// ReadLineFrame reads one line-sensor record. Missing or malformed records
// report false; malformed ones are logged.
func (l *Link) ReadLineFrame() (LineFrame, bool) {
	line, ok := l.ReadFrame()
	if !ok {
		return LineFrame{}, false
	}
	frame, err := ParseLineFrame(line)
	if err != nil {
		l.logf("error parsing sensor data: %v", err)
		return LineFrame{}, false
	}
	return frame, true
}

// Close stops the reader and closes the port. Closing a closed link is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	port, closed, done, path, timeout := l.port, l.closed, l.done, l.path, l.timeout
	l.port = nil
	l.mu.Unlock()

	if port == nil {
		return nil
	}

	close(closed)
	err := port.Close()

	// a port without a read timeout may keep the reader blocked; never wait
	// forever on it
	select {
	case <-done:
	case <-time.After(CloseGrace(timeout)):
		l.logf("reader on %s did not exit after close", path)
	}

	l.logf("serial connection %s closed", path)
	return err
}

// CloseGrace is how long Close waits for the reader of a port with the given
// read timeout to exit.
func CloseGrace(readTimeout time.Duration) time.Duration {
	return 2 * readTimeout
}

// readLoop splits the byte stream into lines and posts each one to the
// single-slot mailbox, evicting any line the consumer has not taken yet.
func (l *Link) readLoop(port SerialPorter, latest chan string, closed, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 256)
	var pending []byte

	for {
		n, err := port.Read(buf)
		select {
		case <-closed:
			return
		default:
		}
		if err != nil {
			l.logf("error reading from serial: %v", err)
			return
		}
		if n == 0 {
			// read timeout elapsed with no data
			continue
		}

		pending = append(pending, buf[:n]...)
		for {
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			raw := pending[:idx]
			pending = pending[idx+1:]

			if !utf8.Valid(raw) {
				l.logf("discarding undecodable line %q", raw)
				continue
			}
			post(latest, strings.TrimSpace(string(raw)))
		}

		if len(pending) > maxLineLength {
			l.logf("discarding %d bytes without a line terminator", len(pending))
			pending = pending[:0]
		}
	}
}

func post(latest chan string, line string) {
	for {
		select {
		case latest <- line:
			return
		default:
		}
		select {
		case <-latest:
		default:
		}
	}
}
