package main

import (
	"errors"
	"fmt"

	"github.com/srg/blescale/internal/session"
	"github.com/srg/blescale/internal/transport"
	"github.com/srg/blescale/internal/transport/goble"
)

// Command-level errors
var (
	// ErrNoReading indicates the device produced no measurement before the
	// deadline. Distinct from a connection failure: the link was fine, the
	// scale just never reported a weight.
	ErrNoReading = errors.New("no measurement received")

	// ErrConnectionLost indicates the BLE connection dropped while a command
	// was using it. Distinct from transport.ErrNotConnected, which indicates
	// an attempt to use a device that was never connected or was already
	// disconnected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError rewrites known failure modes into actionable messages.
// Unknown errors pass through unchanged.
func FormatUserError(err error) string {
	var scanErr *session.ScanError
	switch {
	case errors.Is(err, goble.ErrBluetoothOff):
		return "Bluetooth is powered off. Turn Bluetooth on and try again."
	case errors.Is(err, session.ErrPermissionDenied):
		return "Bluetooth permission was not granted. Allow Bluetooth access for this tool and try again."
	case errors.Is(err, session.ErrEndpointUnavailable):
		return "The connected device exposes no usable endpoint. Is it a supported scale?"
	case errors.Is(err, transport.ErrNotConnected):
		return fmt.Sprintf("%s. The scale may be out of range or powered down.", err)
	case errors.Is(err, ErrNoReading):
		return fmt.Sprintf("%s. Step on the scale to trigger a measurement and try again.", err)
	case errors.Is(err, ErrConnectionLost):
		return fmt.Sprintf("%s. Move the scale closer and try again.", err)
	case errors.As(err, &scanErr):
		return fmt.Sprintf("%s. Toggling Bluetooth off and on usually clears this.", scanErr)
	default:
		return err.Error()
	}
}
