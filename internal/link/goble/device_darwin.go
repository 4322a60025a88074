//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory opens CoreBluetooth in the peripheral role (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	dev, err := darwin.NewDevice(darwin.OptPeripheralRole())
	if err != nil {
		return nil, NormalizeError(err)
	}
	return dev, nil
}
