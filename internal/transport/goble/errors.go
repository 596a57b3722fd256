package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blescale/internal/transport"
)

// ErrBluetoothOff means the adapter is powered down or the process lacks
// access to it. Surfaced so callers can tell the user to turn the radio on
// instead of printing a raw HCI error.
var ErrBluetoothOff = errors.New("bluetooth is powered off")

// errLinkLost marks a disconnect the session never asked for.
var errLinkLost = errors.New("link lost")

// normalizeError maps known go-ble error strings to stable sentinels.
// It ensures consistent handling even if the upstream library changes
// messages slightly. Returns wrapped errors to preserve original context.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", transport.ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", transport.ErrNotConnected, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
