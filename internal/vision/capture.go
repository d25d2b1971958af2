package vision

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/san-kum/servoloop/internal/servo"
)

var errNoFrame = errors.New("capture returned no frame")

// isDeviceIndex reports whether device names a capture device rather than
// a video file or stream URL.
func isDeviceIndex(device string) bool {
	_, err := strconv.Atoi(device)
	return err == nil
}

// readFailure maps a failed capture read to an error. A video file that
// stops producing frames has ended; a device that does has failed.
func readFailure(device string) error {
	if isDeviceIndex(device) {
		return fmt.Errorf("read device %s: %w", device, errNoFrame)
	}
	return servo.ErrEndOfStream
}
