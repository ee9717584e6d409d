package goble

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBluetoothOff is returned when the host adapter is unavailable.
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	// ErrUnsupportedPlatform is returned on hosts without a go-ble backend.
	ErrUnsupportedPlatform = errors.New("no BLE backend for this platform")
)

// NormalizeDeviceError maps platform messages raised while opening the
// device. Everything else is left as is.
func NormalizeDeviceError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is bluetooth turned on"),
		strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "can't init hci"),
		strings.Contains(msg, "no devices available"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	default:
		return err
	}
}
