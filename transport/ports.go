package transport

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
)

// ListPorts returns the serial ports present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}
