package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/srg/presenter/internal/link"
	"github.com/srg/presenter/internal/profile"
)

// FormatUserError turns known failures into a hint for the operator.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, profile.ErrAdvertisementTooLong):
		return fmt.Sprintf("%v (shorten the device name to at most %d bytes)", err, profile.MaxAdvertisementSize-9)
	case errors.Is(err, link.ErrAdvertisingFailed):
		return fmt.Sprintf("%v (is Bluetooth turned on and the adapter available?)", err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Sprintf("%v (the BLE adapter usually needs elevated privileges)", err)
	default:
		return err.Error()
	}
}
