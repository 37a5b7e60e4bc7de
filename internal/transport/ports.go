package transport

import (
	"fmt"

	bugst "go.bug.st/serial"
)

// ListSerialPorts returns the serial devices the OS currently exposes.
func ListSerialPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
