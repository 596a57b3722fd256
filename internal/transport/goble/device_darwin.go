//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// newPlatformDevice returns a CoreBluetooth backed device.
func newPlatformDevice() (ble.Device, error) {
	return darwin.NewDevice()
}
