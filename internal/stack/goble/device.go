package goble

import (
	"github.com/go-ble/ble"
)

// DeviceFactory creates the platform ble.Device (can be overridden in tests).
var DeviceFactory = newDevice

// NewDevice opens the platform BLE device and makes it go-ble's default.
func NewDevice() (ble.Device, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeDeviceError(err)
	}
	ble.SetDefaultDevice(dev)
	return dev, nil
}
