// ABOUTME: Package documentation for protocol
// ABOUTME: Wire format shared by the native client, browser clients, and relay
// Package protocol defines the Talkwire wire format: JSON text messages for
// control signals and single-byte-prefixed binary messages for PCM audio.
package protocol
