package ingest

import (
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"

	"pulsehub/internal/logging"
)

var enumerateErrThrottle logging.Throttle

// Raspberry Pi Foundation USB vendor ID, as reported by a Pico running
// MicroPython's USB CDC stack.
const raspberryPiVID = "2E8A"

// Swappable for tests.
var listPorts = enumerator.GetDetailedPortsList

// detectDevice picks the serial device to connect to. An explicitly
// configured path always wins without enumeration. Otherwise candidates
// are filtered to USB-serial style names plus the Raspberry Pi vendor
// ID, preferring VID matches, then ttyACM-style names, then lexical
// order. An empty result means "not yet available", not an error;
// callers poll.
func detectDevice(explicit string) string {
	if explicit != "" {
		return explicit
	}

	ports, err := listPorts()
	if err != nil {
		logging.ThrottledError(&enumerateErrThrottle, "Serial enumeration failed: %v", err)
		return ""
	}

	var candidates []*enumerator.PortDetails
	for _, port := range ports {
		if strings.EqualFold(port.VID, raspberryPiVID) || likelyUSBSerialName(port.Name) {
			candidates = append(candidates, port)
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aVID := strings.EqualFold(a.VID, raspberryPiVID)
		bVID := strings.EqualFold(b.VID, raspberryPiVID)
		if aVID != bVID {
			return aVID
		}
		aACM := strings.Contains(a.Name, "ttyACM")
		bACM := strings.Contains(b.Name, "ttyACM")
		if aACM != bACM {
			return aACM
		}
		return a.Name < b.Name
	})

	return candidates[0].Name
}

func likelyUSBSerialName(name string) bool {
	return strings.Contains(name, "ttyACM") ||
		strings.Contains(name, "ttyUSB") ||
		strings.Contains(name, "usbmodem")
}
