// Package bledb names Bluetooth SIG assigned numbers: service,
// characteristic and descriptor UUIDs plus company identifiers. The tables
// are curated to the entries this tool encounters in practice (GAP/GATT
// plumbing, weight and body-composition profiles, the Nordic UART service
// scales commonly expose).
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb once dashes are stripped.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the canonical lookup form:
// lowercase, dashes/braces stripped, "0x" prefix removed, and SIG-base
// 128-bit UUIDs collapsed to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.Trim(s, "{}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	// 0000xxxx + SIG base tail -> xxxx
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// LookupService returns the SIG name of a service UUID, or "".
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the SIG name of a characteristic UUID, or "".
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the SIG name of a descriptor UUID, or "".
func LookupDescriptor(uuid string) string {
	return descriptors[NormalizeUUID(uuid)]
}

// LookupVendor returns the company name for a SIG company identifier, or "".
func LookupVendor(companyID uint16) string {
	return vendors[companyID]
}

// Lookup tries service, characteristic and descriptor tables in that order.
func Lookup(uuid string) string {
	n := NormalizeUUID(uuid)
	if name, ok := services[n]; ok {
		return name
	}
	if name, ok := characteristics[n]; ok {
		return name
	}
	return descriptors[n]
}

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery",
	"181b": "Body Composition",
	"181d": "Weight Scale",
	"183b": "Binary Sensor",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a98": "Weight",
	"2a9c": "Body Composition Measurement",
	"2a9d": "Weight Measurement",
	"2a9e": "Weight Scale Feature",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
}

var descriptors = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Description",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
}

var vendors = map[uint16]string{
	0x0006: "Microsoft",
	0x004c: "Apple, Inc.",
	0x0059: "Nordic Semiconductor ASA",
	0x0075: "Samsung Electronics Co. Ltd.",
	0x0100: "TomTom International BV",
	0x0157: "Anhui Huami Information Technology Co., Ltd.",
	0x0499: "Ruuvi Innovations Ltd.",
}
