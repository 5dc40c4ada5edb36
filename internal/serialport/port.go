// Package serialport opens the motor controller link.
package serialport

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

const DefaultBaud = 38400

// Port is the subset of a serial port the expander needs.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// DevicePath turns a bare port name such as "ttyUSB0" into "/dev/ttyUSB0".
func DevicePath(name string) string {
	if name == "" || strings.Contains(name, "/") {
		return name
	}
	return "/dev/" + name
}

// Open opens the serial device in 8N1 mode. readTimeout bounds every Read; a
// timeout below 10ms is raised to 100ms.
func Open(name string, baud int, readTimeout time.Duration) (serial.Port, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	if readTimeout < 10*time.Millisecond {
		readTimeout = 100 * time.Millisecond
	}

	path := DevicePath(name)
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}

	return port, nil
}
