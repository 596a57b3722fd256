package testutils

import (
	"encoding/binary"
	"math"

	"github.com/srg/blescale/internal/frame"
	"github.com/srg/blescale/internal/transport"
)

// WeightFrame encodes the manufacturer data a scale broadcasts: the
// little-endian company identifier followed by the 15-byte payload with
// the big-endian weight in hundredths and the status byte.
func WeightFrame(weight float64, stable bool, unit frame.Unit) []byte {
	payload := make([]byte, 15)
	binary.BigEndian.PutUint16(payload[10:12], uint16(math.Round(weight*100)))

	var status byte
	if stable {
		status = 0x10
	}
	switch unit {
	case frame.Pound:
	case frame.Kilogram:
		status |= 0x01
	default:
		status |= 0x02
	}
	payload[14] = status

	md := make([]byte, 2, 2+len(payload))
	binary.LittleEndian.PutUint16(md, frame.CompanyID)
	return append(md, payload...)
}

// LocalNameTLV encodes a complete-local-name record the way it appears
// in raw advertising data.
func LocalNameTLV(name string) []byte {
	return append([]byte{byte(len(name) + 1), 0x09}, name...)
}

// AdvertisementBuilder assembles transport advertisements fluently.
type AdvertisementBuilder struct {
	adv transport.Advertisement
}

func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: transport.Advertisement{Connectable: true}}
}

func (b *AdvertisementBuilder) WithAddress(address string) *AdvertisementBuilder {
	b.adv.Address = address
	return b
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.LocalName = name
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.RSSI = rssi
	return b
}

func (b *AdvertisementBuilder) WithConnectable(connectable bool) *AdvertisementBuilder {
	b.adv.Connectable = connectable
	return b
}

// WithRawName places the name in the raw packet only, the way devices
// that never fill the resolved name field advertise.
func (b *AdvertisementBuilder) WithRawName(name string) *AdvertisementBuilder {
	b.adv.Raw = LocalNameTLV(name)
	return b
}

// WithWeight attaches a manufacturer weight frame.
func (b *AdvertisementBuilder) WithWeight(weight float64, stable bool, unit frame.Unit) *AdvertisementBuilder {
	b.adv.ManufacturerData = WeightFrame(weight, stable, unit)
	return b
}

// WithManufacturerData attaches arbitrary manufacturer data.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.ManufacturerData = data
	return b
}

func (b *AdvertisementBuilder) Build() transport.Advertisement {
	return b.adv
}
