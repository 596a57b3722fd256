package transport

import "strings"

// Advertisement is one received advertising report.
type Advertisement struct {
	Address          string
	LocalName        string
	RSSI             int
	Connectable      bool
	ManufacturerData []byte
	// Raw is the full advertising payload (TLV records) when the platform
	// exposes it; nil otherwise.
	Raw []byte
}

// Service is a discovered GATT service.
type Service struct {
	UUID            string
	Characteristics []*Characteristic
}

// Characteristic is a discovered GATT characteristic. UUIDs are normalized
// (lowercase, no dashes, 16-bit short form for SIG-base UUIDs).
type Characteristic struct {
	UUID        string
	Properties  Properties
	Descriptors []*Descriptor
}

// Descriptor is a discovered GATT descriptor. CharUUID names the owning
// characteristic so adapters can address it without a handle type of their
// own leaking through this package.
type Descriptor struct {
	UUID     string
	CharUUID string
}

// CCCD finds the characteristic's client-characteristic-configuration
// descriptor, or nil.
func (c *Characteristic) CCCD() *Descriptor {
	for _, d := range c.Descriptors {
		if strings.EqualFold(d.UUID, CCCDUUID) {
			return d
		}
	}
	return nil
}

// Properties is the capability bitmask of a characteristic.
type Properties uint8

const (
	PropRead Properties = 1 << iota
	PropWriteNoResponse
	PropWrite
	PropNotify
	PropIndicate
)

func (p Properties) CanRead() bool            { return p&PropRead != 0 }
func (p Properties) CanWrite() bool           { return p&PropWrite != 0 }
func (p Properties) CanWriteNoResponse() bool { return p&PropWriteNoResponse != 0 }
func (p Properties) CanNotify() bool          { return p&PropNotify != 0 }
func (p Properties) CanIndicate() bool        { return p&PropIndicate != 0 }

// String lists the set capabilities, e.g. "read|notify".
func (p Properties) String() string {
	var parts []string
	if p.CanRead() {
		parts = append(parts, "read")
	}
	if p.CanWriteNoResponse() {
		parts = append(parts, "write-no-rsp")
	}
	if p.CanWrite() {
		parts = append(parts, "write")
	}
	if p.CanNotify() {
		parts = append(parts, "notify")
	}
	if p.CanIndicate() {
		parts = append(parts, "indicate")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Client-characteristic-configuration descriptor constants (Bluetooth SIG).
const CCCDUUID = "2902"

var (
	// CCCDEnableNotify is the CCCD value enabling notifications.
	CCCDEnableNotify = []byte{0x01, 0x00}
	// CCCDEnableIndicate is the CCCD value enabling indications.
	CCCDEnableIndicate = []byte{0x02, 0x00}
)
