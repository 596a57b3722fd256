package session

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the radio permission check failed before
	// any transport call was made. Not retried; the caller must obtain
	// the permission and try again.
	ErrPermissionDenied = errors.New("bluetooth permissions not granted")

	// ErrEndpointUnavailable is returned by SendCommand and RequestRead
	// when discovery did not yield a matching endpoint on this link.
	ErrEndpointUnavailable = errors.New("no matching endpoint resolved on connected device")

	// ErrBusy rejects a connect attempt while a link is being set up,
	// used or torn down. Only one connection exists at a time.
	ErrBusy = errors.New("another connection is in progress")

	// ErrClosed is returned by every operation after Teardown.
	ErrClosed = errors.New("session has been torn down")
)

// ScanError reports an abnormally terminated scan. Code carries the
// platform error code when the transport had one.
type ScanError struct {
	Code int
	Err  error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scan failed (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("scan failed (code %d)", e.Code)
}

func (e *ScanError) Unwrap() error { return e.Err }

// DiscoveryError reports a failed service discovery. The link stays up
// but has no endpoints to talk through.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("service discovery failed: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// DescriptorWriteError reports that enabling notifications failed. The
// session recovers by polling instead.
type DescriptorWriteError struct {
	Err error
}

func (e *DescriptorWriteError) Error() string {
	return fmt.Sprintf("failed to enable notifications: %v", e.Err)
}

func (e *DescriptorWriteError) Unwrap() error { return e.Err }

// WriteError reports one failed characteristic write. Individual writes
// are not retried; the polling cycle is the retry mechanism.
type WriteError struct {
	CharUUID string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to %s failed: %v", e.CharUUID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports one failed characteristic read.
type ReadError struct {
	CharUUID string
	Err      error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read from %s failed: %v", e.CharUUID, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
