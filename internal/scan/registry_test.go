package scan

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blescale/internal/frame"
	"github.com/srg/blescale/internal/transport"
)

func newTestRegistry() *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRegistry(logger)
}

// weightFrame builds manufacturer data carrying a scale frame: little-endian
// company identifier 256 followed by the 15-byte payload.
func weightFrame(raw uint16, status byte) []byte {
	payload := make([]byte, 15)
	binary.BigEndian.PutUint16(payload[10:12], raw)
	payload[14] = status
	return append([]byte{0x00, 0x01}, payload...)
}

// tlvName encodes a complete-local-name record as it appears in a raw
// advertising packet.
func tlvName(name string) []byte {
	return append([]byte{byte(len(name) + 1), 0x09}, name...)
}

func adv(address, name string, rssi int) transport.Advertisement {
	return transport.Advertisement{
		Address:     address,
		LocalName:   name,
		RSSI:        rssi,
		Connectable: true,
	}
}

// TestUpsertTracksNewAndUpdated verifies the first advertisement from an
// address is reported as a discovery and later ones as updates.
func TestUpsertTracksNewAndUpdated(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	r.Upsert(adv("aa:bb:cc:dd:ee:01", "Scale A", -50))
	r.Upsert(adv("aa:bb:cc:dd:ee:01", "Scale A", -42))

	assert.Equal(t, 1, r.Len(), "MUST track one device per address")

	first := <-r.Events()
	second := <-r.Events()
	assert.Equal(t, EventNew, first.Type, "first advertisement MUST be reported as new")
	assert.Equal(t, EventUpdated, second.Type, "repeat advertisement MUST be reported as update")
	assert.Equal(t, -42, second.Device.RSSI, "update MUST carry the fresh signal strength")
}

// TestUpsertKeepsNameAcrossNamelessAdvertisements verifies that a device
// which advertised a name once does not lose it on later nameless packets.
func TestUpsertKeepsNameAcrossNamelessAdvertisements(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	r.Upsert(adv("aa:bb:cc:dd:ee:01", "Scale A", -50))
	r.Upsert(adv("aa:bb:cc:dd:ee:01", "", -48))

	entry, ok := r.Get("aa:bb:cc:dd:ee:01")
	require.True(t, ok)
	assert.Equal(t, "Scale A", entry.Name, "cached name MUST survive a nameless advertisement")
}

// TestUpsertRawNameReplacesFallback verifies the unknown-device fallback is
// not treated as a cached name once a real one shows up in the raw packet.
func TestUpsertRawNameReplacesFallback(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	r.Upsert(adv("aa:bb:cc:dd:ee:01", "", -50))
	entry, _ := r.Get("aa:bb:cc:dd:ee:01")
	require.Equal(t, frame.UnknownDeviceName, entry.Name)

	withRaw := adv("aa:bb:cc:dd:ee:01", "", -50)
	withRaw.Raw = tlvName("BLE Scale")
	r.Upsert(withRaw)

	entry, _ = r.Get("aa:bb:cc:dd:ee:01")
	assert.Equal(t, "BLE Scale", entry.Name, "raw packet name MUST replace the fallback")
}

// TestUpsertDecodesWeightFrames verifies manufacturer data is decoded on the
// way through and foreign vendors are ignored.
func TestUpsertDecodesWeightFrames(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	withWeight := adv("aa:bb:cc:dd:ee:01", "Scale A", -50)
	withWeight.ManufacturerData = weightFrame(0x1be9, 0x11) // 71.45 kg, stable

	reading, ok := r.Upsert(withWeight)
	require.True(t, ok, "MUST decode a qualifying manufacturer frame")
	assert.InDelta(t, 71.45, reading.Weight, 0.0001)
	assert.True(t, reading.Stable)
	assert.Equal(t, frame.Kilogram, reading.Unit)

	foreign := adv("aa:bb:cc:dd:ee:02", "Beacon", -60)
	foreign.ManufacturerData = []byte{0x4c, 0x00, 0x02, 0x15}
	_, ok = r.Upsert(foreign)
	assert.False(t, ok, "MUST NOT decode frames from other vendors")
}

// TestSnapshotOrder verifies snapshots sort by signal strength and keep a
// stable order for ties.
func TestSnapshotOrder(t *testing.T) {
	// GOAL: strongest first, equal signals ordered by address so repeated
	// snapshots do not shuffle rows.
	r := newTestRegistry()
	defer r.Close()

	r.Upsert(adv("cc:00:00:00:00:03", "C", -60))
	r.Upsert(adv("aa:00:00:00:00:01", "A", -40))
	r.Upsert(adv("bb:00:00:00:00:02", "B", -60))

	list := r.Snapshot()
	require.Len(t, list, 3)
	assert.Equal(t, "aa:00:00:00:00:01", list[0].Address)
	assert.Equal(t, "bb:00:00:00:00:02", list[1].Address, "ties MUST be broken by address")
	assert.Equal(t, "cc:00:00:00:00:03", list[2].Address)
}

// TestNameFilter verifies the filter hides nameless devices and can be
// toggled without touching the tracked set.
func TestNameFilter(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	r.Upsert(adv("aa:00:00:00:00:01", "Scale A", -40))
	r.Upsert(adv("bb:00:00:00:00:02", "", -50))

	r.SetNameFilter(true)
	require.True(t, r.NameFilter())
	filtered := r.Snapshot()
	require.Len(t, filtered, 1, "filter MUST hide devices without a name")
	assert.Equal(t, "Scale A", filtered[0].Name)

	r.SetNameFilter(false)
	assert.Len(t, r.Snapshot(), 2, "disabling the filter MUST restore the full list")
	assert.Equal(t, 2, r.Len(), "filter MUST NOT drop tracked devices")
}

// GOAL: An advertisement arriving after the feed was closed is still
// recorded; only its event is discarded. This is the shape teardown
// leaves behind when it races the final advertisements.
func TestUpsertAfterClose(t *testing.T) {
	r := newTestRegistry()
	r.Upsert(adv("aa:bb:cc:dd:ee:01", "Scale A", -50))
	r.Close()

	assert.NotPanics(t, func() {
		r.Upsert(adv("aa:bb:cc:dd:ee:02", "Scale B", -60))
	}, "upsert after Close MUST NOT panic the event feed")
	assert.Equal(t, 2, r.Len())
}

func TestClear(t *testing.T) {
	r := newTestRegistry()
	defer r.Close()

	for i := 0; i < 5; i++ {
		r.Upsert(adv(fmt.Sprintf("aa:00:00:00:00:0%d", i), "", -40-i))
	}
	require.Equal(t, 5, r.Len())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
}
