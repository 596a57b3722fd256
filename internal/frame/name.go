package frame

import "strings"

// Advertisement data record types carrying a device name.
const (
	typeShortenedLocalName = 0x08
	typeCompleteLocalName  = 0x09
)

// UnknownDeviceName is the placeholder used when no candidate name resolves.
const UnknownDeviceName = "Unknown Device"

// LocalName extracts a device name from a raw advertisement payload.
//
// The payload is a sequence of [length][type][value...] records; a
// zero-length record terminates the stream. Record types 0x08 (shortened
// local name) and 0x09 (complete local name) both qualify and the first one
// found wins. Returns absent when no name record exists or a declared
// length would read past the end of the payload.
func LocalName(raw []byte) (string, bool) {
	for i := 0; i < len(raw); {
		length := int(raw[i])
		if length == 0 {
			return "", false
		}
		if i+1+length > len(raw) {
			// Malformed record: declared length overruns the payload.
			return "", false
		}
		recType := raw[i+1]
		if recType == typeShortenedLocalName || recType == typeCompleteLocalName {
			return string(raw[i+2 : i+1+length]), true
		}
		i += 1 + length
	}
	return "", false
}

// ResolveName picks the device's display name: the advertised name when
// non-blank, else the cached name the transport reported earlier, else a
// name parsed out of the raw advertisement records, else the
// UnknownDeviceName placeholder.
func ResolveName(advName, cachedName string, raw []byte) string {
	if s := strings.TrimSpace(advName); s != "" {
		return s
	}
	if s := strings.TrimSpace(cachedName); s != "" {
		return s
	}
	if name, ok := LocalName(raw); ok {
		if s := strings.TrimSpace(name); s != "" {
			return s
		}
	}
	return UnknownDeviceName
}
