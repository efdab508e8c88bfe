// ABOUTME: Version constants for Talkwire binaries
// ABOUTME: Overridable at build time via -ldflags
package version

// Version is the release version, set at build time via
// -ldflags "-X .../internal/version.Version=x.y.z".
var Version = "0.1.0"

// Product is the product name reported in handshakes and logs.
var Product = "Talkwire"

// Manufacturer identifies who built this client.
var Manufacturer = "Talkwire Project"
