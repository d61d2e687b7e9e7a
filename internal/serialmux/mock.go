package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// MockSerialPort replays canned scanner lines. Reads block until data is
// added or the port is closed.
type MockSerialPort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	reads   bytes.Buffer
	written bytes.Buffer
	closed  bool

	// WriteError is returned by the next Write if set.
	WriteError error
}

func NewMockSerialPort() *MockSerialPort {
	p := &MockSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// AddLines queues lines for reading, each terminated with a newline.
func (p *MockSerialPort) AddLines(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range lines {
		p.reads.WriteString(l)
		p.reads.WriteByte('\n')
	}
	p.cond.Broadcast()
}

func (p *MockSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.reads.Len() == 0 {
		p.cond.Wait()
	}
	if p.reads.Len() == 0 {
		return 0, io.EOF
	}
	return p.reads.Read(b)
}

func (p *MockSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if err := p.WriteError; err != nil {
		p.WriteError = nil
		return 0, err
	}
	return p.written.Write(b)
}

func (p *MockSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Written returns everything written to the port so far.
func (p *MockSerialPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// NewMockSerialMux returns a mux whose port repeats lines every interval,
// for running the server without scanner hardware.
func NewMockSerialMux(lines []string, interval time.Duration) *SerialMux[*MockSerialPort] {
	port := NewMockSerialPort()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			port.mu.Lock()
			closed := port.closed
			port.mu.Unlock()
			if closed {
				return
			}
			port.AddLines(lines...)
		}
	}()
	return NewSerialMux(port)
}
