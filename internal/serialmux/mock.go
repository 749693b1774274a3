package serialmux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
)

// TestableSerialPort is an in-memory SerialPorter for tests. Reads block
// until data is queued with AddReadData or the port is closed.
type TestableSerialPort struct {
	mu       sync.Mutex
	readCond *sync.Cond
	read     bytes.Buffer
	written  bytes.Buffer

	// WriteError, when set, fails every Write.
	WriteError error
	// CloseError is returned by Close.
	CloseError error

	closed     bool
	writeCalls int
}

// NewTestableSerialPort creates an open port with empty buffers.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.read.Len() == 0 {
		p.readCond.Wait()
	}
	if p.read.Len() == 0 {
		return 0, errors.New("serial port closed")
	}
	return p.read.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeCalls++
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.WriteError != nil {
		return 0, p.WriteError
	}
	return p.written.Write(b)
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return p.CloseError
}

// SetWriteError changes the error returned by Write.
func (p *TestableSerialPort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WriteError = err
}

// AddReadData queues bytes for Read.
func (p *TestableSerialPort) AddReadData(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.read.WriteString(data)
	p.readCond.Broadcast()
}

// Lines returns the commands written so far, one per line.
func (p *TestableSerialPort) Lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := strings.TrimSuffix(p.written.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// ResetWritten discards recorded writes.
func (p *TestableSerialPort) ResetWritten() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written.Reset()
	p.writeCalls = 0
}

// Closed reports whether Close was called.
func (p *TestableSerialPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// WriteCalls returns the number of Write calls.
func (p *TestableSerialPort) WriteCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeCalls
}
