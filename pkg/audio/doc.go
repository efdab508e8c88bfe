// ABOUTME: Package documentation for audio types
// ABOUTME: Core audio sample model shared by player, capture, and transport
// Package audio defines the normalized sample model used across Talkwire.
//
// Audio moves over the wire as 16-bit little-endian signed PCM and is decoded
// into float32 samples in [-1.0, 1.0] for scheduling and playback.
package audio
