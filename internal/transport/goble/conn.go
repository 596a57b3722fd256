package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blescale/internal/bledb"
	"github.com/srg/blescale/internal/groutine"
	"github.com/srg/blescale/internal/transport"
)

const (
	gapServiceUUID     = "1800"
	deviceNameCharUUID = "2a00"
)

// conn is one live go-ble connection. Discovery populates the live-handle
// maps keyed by normalized UUID; every later operation resolves its handle
// through them. All completions flow through the sink.
type conn struct {
	client  ble.Client
	address string
	logger  *logrus.Logger
	sink    transport.Sink

	// writeMu serializes chunked characteristic writes so two concurrent
	// commands cannot interleave their chunks on the air.
	writeMu sync.Mutex

	mu          sync.Mutex
	name        string
	chars       map[string]*ble.Characteristic
	descs       map[string]map[string]*ble.Descriptor
	sub         *ble.Characteristic
	subIndicate bool
	closed      bool
	watched     bool
}

func newConn(client ble.Client, address string, logger *logrus.Logger, sink transport.Sink) *conn {
	return &conn{
		client:  client,
		address: address,
		logger:  logger,
		sink:    sink,
		chars:   make(map[string]*ble.Characteristic),
		descs:   make(map[string]map[string]*ble.Descriptor),
	}
}

func (c *conn) Address() string { return c.address }

// Name returns the GAP Device Name read during discovery, or "" before
// discovery ran (advertisement names live in the scan registry, not here).
func (c *conn) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// watchLink monitors the client's Disconnected channel when the platform
// provides one. CoreBluetooth and the linux HCI client both close it when
// the link drops; without it, link loss would only surface on the next
// failed operation.
func (c *conn) watchLink() {
	watcher, ok := c.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.logger.Debug("Client does not support Disconnected() channel")
		return
	}

	c.mu.Lock()
	c.watched = true
	c.mu.Unlock()

	groutine.Go(context.Background(), "ble-link-monitor", func(ctx context.Context) {
		<-watcher.Disconnected()

		c.mu.Lock()
		requested := c.closed
		c.closed = true
		c.mu.Unlock()

		if requested {
			c.sink(transport.DisconnectedEvent{Address: c.address})
			return
		}
		c.logger.WithField("address", c.address).Warn("BLE link lost")
		c.sink(transport.DisconnectedEvent{Address: c.address, Err: errLinkLost})
	})
}

// Discover enumerates the peripheral's GATT database on a goroutine and
// reports the result as a ServicesEvent. It also resolves the GAP Device
// Name, which only becomes readable once discovery has run.
func (c *conn) Discover() {
	groutine.Go(context.Background(), "ble-discover", func(ctx context.Context) {
		c.logger.WithField("address", c.address).Debug("Discovering services and characteristics...")

		profile, err := c.client.DiscoverProfile(true)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"address": c.address,
				"error":   err,
			}).Error("Failed to discover profile")
			c.sink(transport.ServicesEvent{Err: fmt.Errorf("failed to discover profile: %w", normalizeError(err))})
			return
		}

		services, nameChar := c.index(profile)
		if nameChar != nil {
			c.readDeviceName(nameChar)
		}

		for _, svc := range services {
			c.logger.WithFields(logrus.Fields{
				"uuid":            svc.UUID,
				"name":            bledb.LookupService(svc.UUID),
				"characteristics": len(svc.Characteristics),
			}).Debug("Discovered service")
		}
		c.logger.WithFields(logrus.Fields{
			"address":  c.address,
			"services": len(services),
		}).Debug("Profile discovered successfully")
		c.sink(transport.ServicesEvent{Services: services})
	})
}

// index converts a discovered profile into the transport service tree and
// swaps in fresh live-handle maps. It returns the GAP Device Name
// characteristic when the peripheral exposes one.
func (c *conn) index(profile *ble.Profile) ([]*transport.Service, *ble.Characteristic) {
	chars := make(map[string]*ble.Characteristic)
	descs := make(map[string]map[string]*ble.Descriptor)
	services := make([]*transport.Service, 0, len(profile.Services))

	var nameChar *ble.Characteristic

	for _, bleSvc := range profile.Services {
		svcUUID := bledb.NormalizeUUID(bleSvc.UUID.String())
		svc := &transport.Service{UUID: svcUUID}

		for _, bleChar := range bleSvc.Characteristics {
			charUUID := bledb.NormalizeUUID(bleChar.UUID.String())
			chars[charUUID] = bleChar

			ch := &transport.Characteristic{
				UUID:       charUUID,
				Properties: convertProperties(bleChar.Property),
			}
			for _, bleDesc := range bleChar.Descriptors {
				descUUID := bledb.NormalizeUUID(bleDesc.UUID.String())
				if descs[charUUID] == nil {
					descs[charUUID] = make(map[string]*ble.Descriptor)
				}
				descs[charUUID][descUUID] = bleDesc
				ch.Descriptors = append(ch.Descriptors, &transport.Descriptor{
					UUID:     descUUID,
					CharUUID: charUUID,
				})
			}
			svc.Characteristics = append(svc.Characteristics, ch)

			if svcUUID == gapServiceUUID && charUUID == deviceNameCharUUID {
				nameChar = bleChar
			}
		}
		services = append(services, svc)
	}

	c.mu.Lock()
	c.chars = chars
	c.descs = descs
	c.mu.Unlock()

	return services, nameChar
}

// readDeviceName reads the GAP Device Name characteristic. The name is
// more authoritative than the advertised one, but a failed read is not an
// error: plenty of peripherals reject reads on it.
func (c *conn) readDeviceName(char *ble.Characteristic) {
	data, err := c.client.ReadCharacteristic(char)
	if err != nil || len(data) == 0 {
		return
	}

	name := strings.TrimSpace(strings.TrimRight(string(data), "\x00"))
	if name == "" {
		return
	}

	c.mu.Lock()
	c.name = name
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"address": c.address,
		"name":    name,
	}).Debug("Resolved device name from GAP")
}

// Subscribe enables notification or indication delivery. go-ble arms the
// CCCD itself as part of Subscribe, so by the time this returns the
// peripheral is already configured to push values.
func (c *conn) Subscribe(char *transport.Characteristic, indicate bool) error {
	live, err := c.liveChar(char.UUID)
	if err != nil {
		return err
	}

	uuid := char.UUID
	err = c.client.Subscribe(live, indicate, func(data []byte) {
		// go-ble may reuse the notification buffer, copy before handing off
		buf := make([]byte, len(data))
		copy(buf, data)
		c.sink(transport.ValueEvent{CharUUID: uuid, Data: buf})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", uuid, normalizeError(err))
	}

	c.mu.Lock()
	c.sub = live
	c.subIndicate = indicate
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"charUUID": uuid,
		"indicate": indicate,
	}).Info("Successfully subscribed to characteristic notifications")
	return nil
}

// WriteDescriptor writes value to a descriptor and reports completion as a
// DescriptorWriteEvent. The CCCD is special-cased: Subscribe already armed
// it through the platform stack, and CoreBluetooth rejects direct CCCD
// writes outright, so the write is acknowledged without touching the air.
func (c *conn) WriteDescriptor(d *transport.Descriptor, value []byte) {
	if strings.EqualFold(d.UUID, transport.CCCDUUID) {
		c.sink(transport.DescriptorWriteEvent{CharUUID: d.CharUUID})
		return
	}

	live, err := c.liveDesc(d.CharUUID, d.UUID)
	if err != nil {
		c.sink(transport.DescriptorWriteEvent{CharUUID: d.CharUUID, Err: err})
		return
	}

	charUUID := d.CharUUID
	descUUID := d.UUID
	value = append([]byte(nil), value...)

	groutine.Go(context.Background(), "ble-descriptor-write", func(ctx context.Context) {
		err := c.client.WriteDescriptor(live, value)
		if err != nil {
			err = fmt.Errorf("failed to write descriptor %s: %w", descUUID, normalizeError(err))
		}
		c.sink(transport.DescriptorWriteEvent{CharUUID: charUUID, Err: err})
	})
}

// Write sends data to a characteristic in ATT-MTU sized chunks and reports
// completion as a WriteResultEvent. Chunks are paced so slow peripherals
// keep up; writeMu keeps concurrent writes from interleaving.
func (c *conn) Write(char *transport.Characteristic, data []byte, withResponse bool) {
	uuid := char.UUID
	live, err := c.liveChar(uuid)
	if err != nil {
		c.sink(transport.WriteResultEvent{CharUUID: uuid, Err: err})
		return
	}

	data = append([]byte(nil), data...)
	noRsp := !withResponse

	groutine.Go(context.Background(), "ble-write", func(ctx context.Context) {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		for len(data) > 0 {
			n := len(data)
			if n > DefaultBLEWriteChunkSize {
				n = DefaultBLEWriteChunkSize
			}
			if err := c.client.WriteCharacteristic(live, data[:n], noRsp); err != nil {
				c.sink(transport.WriteResultEvent{
					CharUUID: uuid,
					Err:      fmt.Errorf("failed to write to characteristic %s: %w", uuid, normalizeError(err)),
				})
				return
			}
			data = data[n:]
			time.Sleep(DefaultBLEWriteDelay)
		}
		c.sink(transport.WriteResultEvent{CharUUID: uuid})
	})
}

// Read requests the characteristic's current value and reports it as a
// ReadResultEvent.
func (c *conn) Read(char *transport.Characteristic) {
	uuid := char.UUID
	live, err := c.liveChar(uuid)
	if err != nil {
		c.sink(transport.ReadResultEvent{CharUUID: uuid, Err: err})
		return
	}

	groutine.Go(context.Background(), "ble-read", func(ctx context.Context) {
		data, err := c.client.ReadCharacteristic(live)
		if err != nil {
			c.sink(transport.ReadResultEvent{
				CharUUID: uuid,
				Err:      fmt.Errorf("failed to read characteristic %s: %w", uuid, normalizeError(err)),
			})
			return
		}
		c.sink(transport.ReadResultEvent{CharUUID: uuid, Data: data})
	})
}

// Close tears the link down. Idempotent: the second and later calls are
// no-ops. When the platform exposes a link monitor the DisconnectedEvent
// is emitted by the monitor once the stack confirms teardown; otherwise
// Close emits it directly.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub := c.sub
	subIndicate := c.subIndicate
	c.sub = nil
	watched := c.watched
	c.mu.Unlock()

	if sub != nil {
		c.tryUnsubscribe(sub, subIndicate)
	}

	c.logger.WithField("address", c.address).Debug("Cancelling BLE connection")
	err := normalizeError(c.client.CancelConnection())

	if !watched {
		c.sink(transport.DisconnectedEvent{Address: c.address})
	}
	return err
}

// tryUnsubscribe disables delivery in the armed mode, then the other mode
// as a fallback. Failures are logged only, the link is about to drop
// anyway.
func (c *conn) tryUnsubscribe(char *ble.Characteristic, indicate bool) {
	err1 := c.client.Unsubscribe(char, indicate)
	if err1 == nil {
		return
	}
	if err2 := c.client.Unsubscribe(char, !indicate); err2 != nil {
		c.logger.WithFields(logrus.Fields{
			"charUUID": char.UUID.String(),
			"armed":    err1,
			"fallback": err2,
		}).Debug("Failed to unsubscribe during close")
	}
}

func (c *conn) liveChar(uuid string) (*ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live, ok := c.chars[bledb.NormalizeUUID(uuid)]
	if !ok {
		return nil, &transport.NotFoundError{Kind: "characteristic", UUID: uuid}
	}
	return live, nil
}

func (c *conn) liveDesc(charUUID, uuid string) (*ble.Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live, ok := c.descs[bledb.NormalizeUUID(charUUID)][bledb.NormalizeUUID(uuid)]
	if !ok {
		return nil, &transport.NotFoundError{Kind: "descriptor", UUID: uuid}
	}
	return live, nil
}

// convertProperties maps go-ble property bits onto the transport bitmask.
func convertProperties(p ble.Property) transport.Properties {
	var out transport.Properties
	if p&ble.CharRead != 0 {
		out |= transport.PropRead
	}
	if p&ble.CharWriteNR != 0 {
		out |= transport.PropWriteNoResponse
	}
	if p&ble.CharWrite != 0 {
		out |= transport.PropWrite
	}
	if p&ble.CharNotify != 0 {
		out |= transport.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= transport.PropIndicate
	}
	return out
}
