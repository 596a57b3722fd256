// Package scan tracks the devices seen while scanning and publishes an
// ordered view of them.
package scan

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blescale/internal/bledb"
	"github.com/srg/blescale/internal/frame"
	"github.com/srg/blescale/internal/transport"
	"github.com/srg/blescale/internal/watch"
)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent is emitted for every processed advertisement.
type DeviceEvent struct {
	Type   DeviceEventType
	Device Device
}

// Device is the published view of a tracked peripheral.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// Entry is the full per-address record. Entries are immutable once
// stored; an update replaces the whole record.
type Entry struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
	LastSeen    time.Time
}

func (e *Entry) published() Device {
	return Device{Name: e.Name, Address: e.Address, RSSI: e.RSSI}
}

// Registry upserts advertisements by address and answers snapshot
// queries. Upsert and Clear are expected from the session loop while
// Snapshot, Len and the name filter may be hit from any goroutine.
type Registry struct {
	mu      sync.RWMutex
	devices *hashmap.Map[string, *Entry]

	nameOnly atomic.Bool
	events   *watch.Stream[DeviceEvent]
	logger   *logrus.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		devices: hashmap.New[string, *Entry](),
		events:  watch.NewStream[DeviceEvent](100),
		logger:  logger,
	}
}

// Upsert records one advertisement and reports the weight reading
// carried in its manufacturer data, when there is one. The resolved
// name survives nameless follow-up advertisements from the same
// address.
func (r *Registry) Upsert(adv transport.Advertisement) (frame.Reading, bool) {
	devices := r.snapshotMap()

	cached := ""
	prev, existing := devices.Get(adv.Address)
	if existing && prev.Name != frame.UnknownDeviceName {
		cached = prev.Name
	}

	entry := &Entry{
		Address:     adv.Address,
		Name:        frame.ResolveName(adv.LocalName, cached, adv.Raw),
		RSSI:        adv.RSSI,
		Connectable: adv.Connectable,
		LastSeen:    time.Now(),
	}
	devices.Set(adv.Address, entry)

	event := DeviceEvent{Type: EventUpdated, Device: entry.published()}
	if !existing {
		event.Type = EventNew
		fields := logrus.Fields{
			"device":  entry.Name,
			"address": entry.Address,
			"rssi":    entry.RSSI,
		}
		if id, ok := frame.CompanyIdentifier(adv.ManufacturerData); ok {
			if vendor := bledb.LookupVendor(id); vendor != "" {
				fields["vendor"] = vendor
			}
		}
		r.logger.WithFields(fields).Info("Discovered new device")
	}
	r.events.Publish(event)

	return frame.ExtractWeight(adv.ManufacturerData)
}

// Snapshot returns the tracked devices, strongest signal first, ties
// broken by address so consecutive snapshots keep a stable order. With
// the name filter enabled, devices that never advertised a name are
// omitted.
func (r *Registry) Snapshot() []Device {
	devices := r.snapshotMap()
	nameOnly := r.nameOnly.Load()

	list := make([]Device, 0, devices.Len())
	devices.Range(func(_ string, e *Entry) bool {
		if nameOnly && e.Name == frame.UnknownDeviceName {
			return true
		}
		list = append(list, e.published())
		return true
	})

	sort.Slice(list, func(i, j int) bool {
		if list[i].RSSI != list[j].RSSI {
			return list[i].RSSI > list[j].RSSI
		}
		return list[i].Address < list[j].Address
	})
	return list
}

// Get returns the full record for an address.
func (r *Registry) Get(address string) (*Entry, bool) {
	return r.snapshotMap().Get(address)
}

// SetNameFilter toggles the name-presence filter. It only affects
// subsequent snapshots; no rescan is needed.
func (r *Registry) SetNameFilter(enabled bool) {
	r.nameOnly.Store(enabled)
}

// NameFilter reports the current filter setting.
func (r *Registry) NameFilter() bool {
	return r.nameOnly.Load()
}

// Clear drops every tracked device.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.devices = hashmap.New[string, *Entry]()
	r.mu.Unlock()
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	return r.snapshotMap().Len()
}

// Events returns the discovery event feed. Slow consumers lose the
// oldest events, never the newest.
func (r *Registry) Events() <-chan DeviceEvent {
	return r.events.C()
}

// Close shuts the event feed down. A late Upsert still updates the map;
// its event is discarded.
func (r *Registry) Close() {
	r.events.Close()
}

func (r *Registry) snapshotMap() *hashmap.Map[string, *Entry] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices
}
