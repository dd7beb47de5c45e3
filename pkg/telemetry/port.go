package telemetry

import (
	"fmt"
	"io"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate matches the controller firmware.
const DefaultBaudRate = 9600

// Port is the byte transport the read loop consumes. Closing the port must
// unblock a pending Read with an error.
type Port interface {
	io.ReadCloser
}

// PortFactory opens a transport for the given port identifier.
type PortFactory func(name string, baudRate int) (Port, error)

// SerialFactory opens real serial ports.
func SerialFactory(name string, baudRate int) (Port, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port, nil
}

// PortInfo describes a serial port available on the host.
type PortInfo struct {
	Name        string
	Description string
	IsUSB       bool
	VID         string
	PID         string
}

// Ports returns a list of available serial ports.
func Ports() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]PortInfo, 0, len(details))
	for _, d := range details {
		desc := d.Product
		if desc == "" {
			desc = d.Name
		}
		result = append(result, PortInfo{
			Name:        d.Name,
			Description: desc,
			IsUSB:       d.IsUSB,
			VID:         d.VID,
			PID:         d.PID,
		})
	}
	return result, nil
}
