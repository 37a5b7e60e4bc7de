package transport

import "slices"

// DefaultBaud is used when the configured rate is not supported.
const DefaultBaud = 115200

// SupportedBauds lists the rates the sensor's serial ports accept.
var SupportedBauds = []int{9600, 38400, 57600, 115200, 230400, 460800, 500000, 921600, 1000000}

// NormalizeBaud returns b if supported, else DefaultBaud and false.
func NormalizeBaud(b int) (int, bool) {
	if slices.Contains(SupportedBauds, b) {
		return b, true
	}
	return DefaultBaud, false
}
