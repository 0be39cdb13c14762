package serialmux

import "io"

// SerialPorter is the part of a serial port the mux uses.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// Parity selects the parity bit of a SerialPortMode.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// StopBits selects one or two stop bits.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// SerialPortMode is the line configuration a port is opened with.
type SerialPortMode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// DefaultSerialPortMode is 115200 8N1, the odometry controller's factory
// setting.
func DefaultSerialPortMode() *SerialPortMode {
	return &SerialPortMode{BaudRate: DefaultBaudRate, DataBits: 8}
}

// SerialPortFactory opens serial ports.
type SerialPortFactory interface {
	Open(path string, mode *SerialPortMode) (SerialPorter, error)
}

// SerialPortOpener adapts a function to SerialPortFactory.
type SerialPortOpener func(path string, mode *SerialPortMode) (SerialPorter, error)

// Open calls f.
func (f SerialPortOpener) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	return f(path, mode)
}
