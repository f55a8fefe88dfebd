package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

func openRealPort(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(path, opts, openRealPort)
}

// OpenSerialMux opens path through open and wraps the port in a SerialMux.
func OpenSerialMux(path string, opts PortOptions, open SerialPortOpener) (*SerialMux[SerialPorter], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return NewSerialMux(port), nil
}
