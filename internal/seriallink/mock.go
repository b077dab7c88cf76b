package seriallink

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, errors, and latency.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadTimeout is the current read timeout; an empty buffer makes Read
	// wait this long and return (0, nil), like a real port.
	ReadTimeout time.Duration

	// InputResets counts ResetInputBuffer calls
	InputResets int

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		ReadTimeout: 10 * time.Millisecond,
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read returns buffered data, or waits up to ReadTimeout for some to arrive.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadBuffer.Len() == 0 {
		deadline := time.AfterFunc(t.ReadTimeout, func() {
			t.mu.Lock()
			t.readCond.Broadcast()
			t.mu.Unlock()
		})
		t.readCond.Wait()
		deadline.Stop()
		if t.Closed {
			return 0, errors.New("serial port closed")
		}
		if t.ReadBuffer.Len() == 0 {
			return 0, nil
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write captures data written to the port.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast() // Wake up any blocked readers

	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// ResetInputBuffer implements InputResetter.
func (t *TestableSerialPort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.InputResets++
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// IsClosed reports whether Close was called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// PortOpener returns a SerialPortOpener that always hands out port.
func PortOpener(port SerialPorter) SerialPortOpener {
	return func(string, PortOptions) (SerialPorter, error) {
		return port, nil
	}
}

// FailingOpener returns a SerialPortOpener that always fails with err.
func FailingOpener(err error) SerialPortOpener {
	return func(string, PortOptions) (SerialPorter, error) {
		return nil, err
	}
}

// ScriptedLink replays a fixed sequence of raw lines, one per read, through
// the same decoding as Link. An empty string in the script means "no data this
// cycle". When the script runs out, OnExhausted is called once and every
// later read reports no data, unless Repeat is set, in which case the script
// starts over.
type ScriptedLink struct {
	mu          sync.Mutex
	lines       []string
	next        int
	open        bool
	opens       int
	closes      int
	OpenError   error
	OnExhausted func()
	Repeat      bool
	exhausted   bool
}

// NewScriptedLink returns a link that will replay lines.
func NewScriptedLink(lines ...string) *ScriptedLink {
	return &ScriptedLink{lines: lines}
}

// Open implements the link contract used by the control loops.
func (s *ScriptedLink) Open(path string, opts PortOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.OpenError != nil {
		return s.OpenError
	}
	s.open = true
	return nil
}

// Close marks the link closed.
func (s *ScriptedLink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.closes++
	return nil
}

// IsOpen reports whether Open succeeded and Close has not been called since.
func (s *ScriptedLink) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Closes returns the number of Close calls.
func (s *ScriptedLink) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// ReadFrame returns the next scripted line.
func (s *ScriptedLink) ReadFrame() (string, bool) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return "", false
	}
	if s.Repeat && s.next >= len(s.lines) {
		s.next = 0
	}
	if s.next >= len(s.lines) {
		hook := s.OnExhausted
		first := !s.exhausted
		s.exhausted = true
		s.mu.Unlock()
		if first && hook != nil {
			hook()
		}
		return "", false
	}
	line := s.lines[s.next]
	s.next++
	last := s.next == len(s.lines) && !s.Repeat
	hook := s.OnExhausted
	if last {
		s.exhausted = true
	}
	s.mu.Unlock()

	if last && hook != nil {
		hook()
	}
	if line == "" {
		return "", false
	}
	return line, true
}

// ReadDirection decodes the next scripted line as an obstacle token.
func (s *ScriptedLink) ReadDirection() Direction {
	line, ok := s.ReadFrame()
	if !ok {
		return DirectionUnknown
	}
	return ParseDirection(line)
}

// ReadLineFrame decodes the next scripted line as a line-sensor record.
func (s *ScriptedLink) ReadLineFrame() (LineFrame, bool) {
	line, ok := s.ReadFrame()
	if !ok {
		return LineFrame{}, false
	}
	frame, err := ParseLineFrame(line)
	if err != nil {
		return LineFrame{}, false
	}
	return frame, true
}
