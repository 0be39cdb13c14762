package serialmux

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/mobile-manipulator/internal/estimator"
)

// MockPortPath is the -serial value that selects NewMockSerialMux instead
// of a hardware port.
const MockPortPath = "mock"

// MockSerialPort is a SerialPorter whose input is a pipe and whose
// output is captured in memory.
type MockSerialPort struct {
	*io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

// Write records p.
func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Write(p)
}

// Written returns everything written to the port so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

// Close stops the input pipe.
func (m *MockSerialPort) Close() error {
	m.w.Close()
	return m.PipeReader.Close()
}

// NewMockSerialMux creates a SerialMux whose port emits a constant-twist
// odometry line every interval until the mux is closed.
func NewMockSerialMux(linear, angular [3]float64, interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	mockPort := &MockSerialPort{PipeReader: r, w: w}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for now := range ticker.C {
			line := FormatOdometryLine(estimator.NewOdometryObservation(now, linear, angular)) + "\n"
			if _, err := w.Write([]byte(line)); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(mockPort)
}
