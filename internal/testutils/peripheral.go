package testutils

import (
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blescale/internal/transport"
)

type charSpec struct {
	props string
	value []byte
}

// PeripheralBuilder assembles the discovered profile a FakeConn serves.
// Services and characteristics keep insertion order, which is what the
// endpoint resolver's first-match rules key off.
type PeripheralBuilder struct {
	services *orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, *charSpec]]
	last     string
	autoCCCD bool
}

func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		services: orderedmap.New[string, *orderedmap.OrderedMap[string, *charSpec]](),
		autoCCCD: true,
	}
}

// WithService adds (or reopens) a service; following WithCharacteristic
// calls attach to it.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	if _, ok := b.services.Get(uuid); !ok {
		b.services.Set(uuid, orderedmap.New[string, *charSpec]())
	}
	b.last = uuid
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
// properties is a comma list out of read, write, write-no-rsp, notify
// and indicate.
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	chars, ok := b.services.Get(b.last)
	if !ok {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	chars.Set(uuid, &charSpec{props: properties, value: value})
	return b
}

// WithoutCCCD drops the automatic client-configuration descriptor from
// notify and indicate characteristics.
func (b *PeripheralBuilder) WithoutCCCD() *PeripheralBuilder {
	b.autoCCCD = false
	return b
}

// Build renders the profile. Notify and indicate characteristics get a
// CCCD unless WithoutCCCD was called.
func (b *PeripheralBuilder) Build() []*transport.Service {
	var services []*transport.Service
	for svc := b.services.Oldest(); svc != nil; svc = svc.Next() {
		s := &transport.Service{UUID: svc.Key}
		for ch := svc.Value.Oldest(); ch != nil; ch = ch.Next() {
			props := parseProperties(ch.Value.props)
			char := &transport.Characteristic{UUID: ch.Key, Properties: props}
			if b.autoCCCD && (props.CanNotify() || props.CanIndicate()) {
				char.Descriptors = []*transport.Descriptor{
					{UUID: transport.CCCDUUID, CharUUID: ch.Key},
				}
			}
			s.Characteristics = append(s.Characteristics, char)
		}
		services = append(services, s)
	}
	return services
}

// Values collects the configured characteristic values, ready for a
// FakeConn's read auto-ack.
func (b *PeripheralBuilder) Values() map[string][]byte {
	values := make(map[string][]byte)
	for svc := b.services.Oldest(); svc != nil; svc = svc.Next() {
		for ch := svc.Value.Oldest(); ch != nil; ch = ch.Next() {
			if ch.Value.value != nil {
				values[ch.Key] = ch.Value.value
			}
		}
	}
	return values
}

func parseProperties(props string) transport.Properties {
	var p transport.Properties
	for _, part := range strings.Split(props, ",") {
		switch strings.TrimSpace(part) {
		case "read":
			p |= transport.PropRead
		case "write":
			p |= transport.PropWrite
		case "write-no-rsp":
			p |= transport.PropWriteNoResponse
		case "notify":
			p |= transport.PropNotify
		case "indicate":
			p |= transport.PropIndicate
		}
	}
	return p
}
