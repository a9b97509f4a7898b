package fleet

import "errors"

// Domain errors for the fleet package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, fleet.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist in the
	// registry. Status reports for unknown devices are dropped with this
	// error rather than auto-registering the device.
	ErrDeviceNotFound = errors.New("fleet: device not found")
)
