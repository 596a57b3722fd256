// Package transport defines the radio capability the session consumes:
// scanning, connecting, service discovery, characteristic and descriptor
// I/O. Implementations deliver every request's outcome asynchronously as
// events through a Sink; the session serializes those events into its own
// queue. The package itself is dependency-free so adapters (go-ble, test
// fakes) stay swappable.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Transport is the scanning/connecting capability.
//
// Scan starts advertising delivery into sink and returns once scanning is
// underway; advertisements and the terminal ScanFailedEvent arrive
// asynchronously. StopScan cancels a running scan and is a no-op otherwise.
// Connect dials the peripheral; the outcome arrives as a ConnectedEvent
// carrying the live Conn, or a DisconnectedEvent carrying the dial error.
type Transport interface {
	Scan(ctx context.Context, opts ScanOptions, sink Sink) error
	StopScan()
	Connect(ctx context.Context, address string, sink Sink) error
}

// Conn is one live link to a peripheral. All request/completion style
// operations (Discover, WriteDescriptor, Write, Read) resolve through the
// sink the connection was created with; Subscribe reports its local setup
// failure synchronously because nothing has gone over the air yet when it
// fails.
type Conn interface {
	// Address returns the peripheral address this connection is bound to.
	Address() string

	// Name returns the peripheral's device name as reported by the
	// transport (GAP Device Name read after connect, or the advertised
	// name). Empty when unknown.
	Name() string

	// Discover enumerates services, characteristics and descriptors.
	// Completion arrives as a ServicesEvent.
	Discover()

	// Subscribe enables notification (or indication) delivery for the
	// characteristic. Incoming values arrive as ValueEvents.
	Subscribe(c *Characteristic, indicate bool) error

	// WriteDescriptor writes value to the descriptor. Completion arrives
	// as a DescriptorWriteEvent.
	WriteDescriptor(d *Descriptor, value []byte)

	// Write sends data to the characteristic. Completion arrives as a
	// WriteResultEvent.
	Write(c *Characteristic, data []byte, withResponse bool)

	// Read requests the characteristic's current value. Completion arrives
	// as a ReadResultEvent.
	Read(c *Characteristic)

	// Close tears the link down. A DisconnectedEvent follows.
	Close() error
}

// ScanOptions configures a scan. The session always requests the
// lowest-latency, report-all-matches behavior with no filters; duplicate
// reporting is what keeps RSSI fresh in the registry.
type ScanOptions struct {
	AllowDuplicates bool
}

// PermissionSource answers whether the process currently holds the radio
// permissions scanning requires.
type PermissionSource interface {
	HasPermissions() bool
}

// GrantedPermissions is a PermissionSource that always reports true, for
// platforms where access is an install-time entitlement rather than a
// runtime grant.
type GrantedPermissions struct{}

func (GrantedPermissions) HasPermissions() bool { return true }

// ErrNotConnected indicates an operation was issued on a connection that is
// no longer (or never was) established.
var ErrNotConnected = errors.New("not connected")

// NotFoundError reports a GATT entity lookup miss.
type NotFoundError struct {
	Kind string // "service", "characteristic", "descriptor"
	UUID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.UUID)
}
