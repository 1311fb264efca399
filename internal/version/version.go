// Package version identifies this library on the wire.
package version

const (
	// Library is the name reported in error beacons and User-Agent headers.
	Library = "enforce-go"
	// SDK is the library version, sent as utm_sdk_version.
	SDK = "1.0.0"
	// Platform is sent as utm_platform on every beacon.
	Platform = "go_sdk"
	// Envelope is the beacon payload format version.
	Envelope = "1.0.0"
)
