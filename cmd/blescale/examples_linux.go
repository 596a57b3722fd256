package main

const (
	exampleDeviceAddress = "E5:72:4F:29:A3:1C"
	deviceAddressNote    = "Device address format: 48-bit MAC, colon-separated\n  Use 'blescale scan' to discover nearby scales"
)
