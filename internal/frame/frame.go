// Package frame holds the stateless decoders for the scale's two wire
// formats: the binary weight record carried in manufacturer-specific
// advertisement data, and the TLV advertisement records a local name is
// extracted from.
package frame

import (
	"encoding/binary"
	"fmt"
)

const (
	// CompanyID is the Bluetooth SIG company identifier the scale tags its
	// manufacturer data with (little-endian prefix of the raw payload).
	CompanyID uint16 = 256

	// weightPayloadMin is the minimum company payload length carrying a
	// complete weight record.
	weightPayloadMin = 15

	weightOffset = 10 // big-endian uint16, hundredths of a unit
	statusOffset = 14 // high nibble stability, low nibble unit
)

// Unit is the measurement unit reported in a weight record.
type Unit int

const (
	Pound Unit = iota
	Kilogram
	UnitUnknown
)

// String returns the display suffix for the unit.
func (u Unit) String() string {
	switch u {
	case Pound:
		return "lb"
	case Kilogram:
		return "kg"
	default:
		return "?"
	}
}

// Reading is a decoded weight record.
//
// Publication rule: the session's last-message slot is updated from a
// Reading only while Stable is false; the scale keeps broadcasting its final
// stable value, and mirroring every repeat into the text slot would drown
// out the line-protocol messages. The structured reading stream updates on
// every decode, stable included.
type Reading struct {
	Weight float64
	Stable bool
	Unit   Unit
}

// Text returns the line-protocol form of the reading, e.g. "71.45 kg".
func (r Reading) Text() string {
	return fmt.Sprintf("%.2f %s", r.Weight, r.Unit)
}

// DecodeWeight decodes a weight record from the company payload, i.e. the
// manufacturer data after the 2-byte company identifier prefix.
//
// Layout:
//   - bytes 10-11: weight magnitude, big-endian, hundredths of a unit
//   - byte 14:     high nibble nonzero = stable, low nibble = unit
//     (0 = pound, 1 = kilogram, anything else unknown)
//
// Payloads shorter than 15 bytes carry no record and decode as absent.
func DecodeWeight(payload []byte) (Reading, bool) {
	if len(payload) < weightPayloadMin {
		return Reading{}, false
	}

	raw := binary.BigEndian.Uint16(payload[weightOffset : weightOffset+2])
	status := payload[statusOffset]

	var unit Unit
	switch status & 0x0F {
	case 0x00:
		unit = Pound
	case 0x01:
		unit = Kilogram
	default:
		unit = UnitUnknown
	}

	return Reading{
		Weight: float64(raw) / 100,
		Stable: (status>>4)&0x0F != 0,
		Unit:   unit,
	}, true
}

// CompanyIdentifier returns the little-endian company identifier prefix of
// raw manufacturer data.
func CompanyIdentifier(manufacturerData []byte) (uint16, bool) {
	if len(manufacturerData) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(manufacturerData[0:2]), true
}

// ExtractWeight decodes a weight record from raw manufacturer data as
// delivered in an advertisement: the first two bytes are the little-endian
// company identifier and must match CompanyID, the rest is the company
// payload handed to DecodeWeight.
func ExtractWeight(manufacturerData []byte) (Reading, bool) {
	id, ok := CompanyIdentifier(manufacturerData)
	if !ok || id != CompanyID {
		return Reading{}, false
	}
	return DecodeWeight(manufacturerData[2:])
}
