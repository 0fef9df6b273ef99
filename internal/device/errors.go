package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not paired.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when pairing a device that is already paired.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidID is returned when an ID is not a 32-character cast identifier.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidClass is returned when a class value is not recognised.
	ErrInvalidClass = errors.New("device: invalid class")
)
