package transport

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// USB identifiers of the Raspberry Pi Pico CDC serial interface exposed by the Piconet board.
const (
	PicoVendorID  = "2E8A"
	PicoProductID = "000A"
)

// listPorts enumerates serial ports. Tests replace it.
var listPorts = enumerator.GetDetailedPortsList

// AutoDetect returns the name of the first USB serial port that belongs to a Piconet board.
func AutoDetect() (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}

	for _, port := range ports {
		if port == nil || !port.IsUSB {
			continue
		}
		if strings.EqualFold(port.VID, PicoVendorID) && strings.EqualFold(port.PID, PicoProductID) {
			return port.Name, nil
		}
	}

	return "", ErrDeviceNotFound
}
