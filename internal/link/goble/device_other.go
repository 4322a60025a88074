//go:build !linux && !darwin

package goble

import (
	"errors"

	"github.com/go-ble/ble"
)

// DeviceFactory reports that no BLE stack is available on this platform.
var DeviceFactory = func() (ble.Device, error) {
	return nil, errors.New("no BLE peripheral support on this platform")
}
