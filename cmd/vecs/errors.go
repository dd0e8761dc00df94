package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/srg/vecs/internal/device"
)

// Command-level errors
var (
	// ErrNoSensors indicates a scan finished without a single qualifying sensor
	ErrNoSensors = errors.New("no sensors found")
)

// FormatUserError turns an error chain into a one-line message for the
// operator. Known conditions get actionable wording; anything else is
// printed as is.
func FormatUserError(err error) string {
	var nf *device.NotFoundError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return device.StatusText(device.ErrBluetoothOff)
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("Bluetooth Low Energy is not available on this platform (%v)", err)
	case errors.Is(err, device.ErrTimeout):
		return device.StatusText(device.ErrTimeout)
	case errors.As(err, &nf):
		return fmt.Sprintf("The sensor firmware lacks a required attribute: %v", nf)
	case errors.Is(err, os.ErrPermission):
		return fmt.Sprintf("Permission denied: %v (BLE access may require elevated privileges)", err)
	case errors.Is(err, ErrNoSensors):
		return "No VE Control Sensors found nearby. Make sure they are powered on and in range."
	default:
		return err.Error()
	}
}
