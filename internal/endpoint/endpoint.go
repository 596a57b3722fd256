// Package endpoint selects the characteristics a session talks through
// from a discovered GATT profile.
package endpoint

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blescale/internal/bledb"
	"github.com/srg/blescale/internal/transport"
)

// Set holds the endpoints picked from one service discovery. Every field
// is optional: a peripheral with no notify endpoint is served by polling,
// and operations that need a missing write or read endpoint fail
// individually instead of blocking the connection.
type Set struct {
	// Notify receives unsolicited value deliveries once subscribed.
	// When Indicate is true it was chosen for its indicate capability
	// because no characteristic advertised notify.
	Notify   *transport.Characteristic
	Write    *transport.Characteristic
	Read     *transport.Characteristic
	Indicate bool

	// CCCD is Notify's client configuration descriptor, nil when the
	// peripheral did not expose one during discovery.
	CCCD *transport.Descriptor
}

// Resolve walks the services in enumeration order and picks the first
// characteristic for each role. Notify capability wins over indicate
// across the whole profile, not just within a service. Resolve never
// fails; an empty Set is the legitimate outcome for a peripheral with
// no usable characteristics.
func Resolve(services []*transport.Service) Set {
	var set Set
	var indicate *transport.Characteristic

	for _, svc := range services {
		for _, ch := range svc.Characteristics {
			if set.Notify == nil && ch.Properties.CanNotify() {
				set.Notify = ch
			}
			if indicate == nil && ch.Properties.CanIndicate() {
				indicate = ch
			}
			if set.Write == nil && (ch.Properties.CanWrite() || ch.Properties.CanWriteNoResponse()) {
				set.Write = ch
			}
			if set.Read == nil && ch.Properties.CanRead() {
				set.Read = ch
			}
		}
	}

	if set.Notify == nil && indicate != nil {
		set.Notify = indicate
		set.Indicate = true
	}
	if set.Notify != nil {
		set.CCCD = set.Notify.CCCD()
	}
	return set
}

// Zero reports whether resolution found nothing at all.
func (s Set) Zero() bool {
	return s.Notify == nil && s.Write == nil && s.Read == nil
}

// EnableValue returns the CCCD payload matching the subscription mode
// of the selected notify endpoint.
func (s Set) EnableValue() []byte {
	if s.Indicate {
		return transport.CCCDEnableIndicate
	}
	return transport.CCCDEnableNotify
}

// Fields renders the set for structured logging, labelling UUIDs the SIG
// assigned-numbers tables know about.
func (s Set) Fields() logrus.Fields {
	return logrus.Fields{
		"notify":   uuidOrNone(s.Notify),
		"write":    uuidOrNone(s.Write),
		"read":     uuidOrNone(s.Read),
		"indicate": s.Indicate,
		"cccd":     s.CCCD != nil,
	}
}

func uuidOrNone(c *transport.Characteristic) string {
	if c == nil {
		return "none"
	}
	if name := bledb.Lookup(c.UUID); name != "" {
		return c.UUID + " (" + name + ")"
	}
	return c.UUID
}
