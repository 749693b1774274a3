package serialmux

import (
	"io"

	"go.bug.st/serial"
)

// SerialPorter is the part of a serial port the mux needs. go.bug.st/serial
// ports satisfy it, as does TestableSerialPort.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// NewRealSerialMux opens the LED controller's serial device at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}
