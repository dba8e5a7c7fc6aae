// Package serial abstracts the physical connection to the Wi-Fi coprocessor.
package serial

import (
	"io"
)

// Port represents a serial port interface to the AT coprocessor.
// This abstraction allows for different implementations:
//   - Native serial (using github.com/tarm/serial)
//   - Mock serial (for testing, see MockPort)
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data.
	Flush() error
}

// ResettablePort is implemented by ports that can pulse a hardware reset
// line. Not every transport wiring exposes one.
type ResettablePort interface {
	Port
	Reset(level ResetLevel) error
}

// ResetLevel selects how the reset line is driven.
type ResetLevel int

const (
	ResetPulseLow ResetLevel = iota
	ResetPulseHigh
)

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3").
	Device string

	// Baud rate. The ESP-AT default is 115200.
	Baud int

	// Read timeout in milliseconds (0 = blocking).
	ReadTimeout int
}

// DefaultConfig returns the default configuration for an ESP-AT coprocessor.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200, // at_port_baudrate default, spec.md §6
		ReadTimeout: 100,
	}
}
