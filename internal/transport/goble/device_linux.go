//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// newPlatformDevice returns an HCI socket backed device.
func newPlatformDevice() (ble.Device, error) {
	return linux.NewDevice()
}
