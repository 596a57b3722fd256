// Package goble adapts the go-ble/ble host stack to the transport
// contract. Scanning and dialing run on named goroutines and report
// back through the sink; one Transport serves any number of sequential
// connections but owns a single HCI/CoreBluetooth device.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blescale/internal/groutine"
	"github.com/srg/blescale/internal/transport"
)

const (
	// DefaultBLEWriteChunkSize is the maximum number of bytes to write in a single BLE operation.
	// BLE 4.0/4.1 spec defines ATT_MTU of 23 bytes (20 bytes payload after ATT header overhead).
	// Keeping chunks at 20 bytes ensures compatibility with all BLE versions.
	DefaultBLEWriteChunkSize = 20

	// DefaultBLEWriteDelay is the delay between consecutive write chunks.
	// This prevents overwhelming the BLE peripheral's receive buffer and ensures reliable delivery.
	DefaultBLEWriteDelay = 10 * time.Millisecond
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

// Transport implements transport.Transport on top of go-ble.
type Transport struct {
	logger *logrus.Logger

	mu   sync.Mutex
	dev  ble.Device
	scan *scanHandle
}

// scanHandle identifies one scan so a finished scan goroutine never
// clears the cancel func of a scan started after it.
type scanHandle struct {
	cancel context.CancelFunc
}

// New creates a Transport. The platform device is created lazily on the
// first scan or connect so constructing a Transport never touches the
// radio.
func New(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

// device returns the ble.Device, creating it on first use. The device is
// also installed as go-ble's default so ble.Dial routes through it.
func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", normalizeError(err))
	}
	ble.SetDefaultDevice(dev)
	t.dev = dev
	return dev, nil
}

// Scan starts advertisement delivery into sink. It returns once the scan
// goroutine is launched; a scan that dies later surfaces as a
// ScanFailedEvent. Cancellation through StopScan or ctx is not a failure.
func (t *Transport) Scan(ctx context.Context, opts transport.ScanOptions, sink transport.Sink) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.scan != nil {
		t.mu.Unlock()
		return errors.New("scan already running")
	}
	scanCtx, cancel := context.WithCancel(ctx)
	h := &scanHandle{cancel: cancel}
	t.scan = h
	t.mu.Unlock()

	t.logger.WithField("allow_duplicates", opts.AllowDuplicates).Debug("Starting BLE scan")

	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, opts.AllowDuplicates, func(adv ble.Advertisement) {
			sink(transport.AdvertisementEvent{Adv: convertAdvertisement(adv)})
		})

		t.mu.Lock()
		if t.scan == h {
			t.scan = nil
		}
		t.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.logger.WithField("error", err).Error("BLE scan terminated abnormally")
			sink(transport.ScanFailedEvent{Err: normalizeError(err)})
		}
	})
	return nil
}

// StopScan cancels the running scan, if any.
func (t *Transport) StopScan() {
	t.mu.Lock()
	h := t.scan
	t.scan = nil
	t.mu.Unlock()

	if h != nil {
		t.logger.Debug("Stopping BLE scan")
		h.cancel()
	}
}

// Connect dials the peripheral on a goroutine. Success arrives as a
// ConnectedEvent carrying the live conn; a failed dial arrives as a
// DisconnectedEvent carrying the error. ctx bounds the dial attempt.
func (t *Transport) Connect(ctx context.Context, address string, sink transport.Sink) error {
	if strings.TrimSpace(address) == "" {
		return errors.New("device address is empty")
	}
	if _, err := t.device(); err != nil {
		return err
	}

	t.logger.WithField("address", address).Info("Connecting to BLE device...")

	groutine.Go(ctx, "ble-dial", func(ctx context.Context) {
		client, err := ble.Dial(ctx, ble.NewAddr(address))
		if err != nil {
			t.logger.WithFields(logrus.Fields{
				"address": address,
				"error":   err,
			}).Error("Failed to dial BLE device")
			sink(transport.DisconnectedEvent{
				Address: address,
				Err:     fmt.Errorf("failed to connect to device with address %q: %w", address, normalizeError(err)),
			})
			return
		}

		c := newConn(client, address, t.logger, sink)
		c.watchLink()
		sink(transport.ConnectedEvent{Conn: c})
	})
	return nil
}

// convertAdvertisement maps a go-ble advertisement into the transport
// shape. Manufacturer data is copied because go-ble may reuse the
// underlying buffer for the next report.
func convertAdvertisement(adv ble.Advertisement) transport.Advertisement {
	var manuf []byte
	if md := adv.ManufacturerData(); len(md) > 0 {
		manuf = make([]byte, len(md))
		copy(manuf, md)
	}
	return transport.Advertisement{
		Address:          adv.Addr().String(),
		LocalName:        adv.LocalName(),
		RSSI:             adv.RSSI(),
		Connectable:      adv.Connectable(),
		ManufacturerData: manuf,
	}
}
