// ABOUTME: Talkwire protocol message type definitions
// ABOUTME: JSON control messages and binary audio framing shared by client and relay
package protocol

import (
	"encoding/json"
	"fmt"
)

// Control message types. Audio never travels as JSON; these are the
// out-of-band signals around the binary audio stream.
const (
	TypeSessionHello = "session/hello"
	TypeSessionReady = "session/ready"
	TypeTurnComplete = "turn_complete"
	TypeInterruption = "interruption"
	TypeSessionEnd   = "session_end"
	TypeError        = "error"
)

// Binary frame type bytes. A binary WebSocket message is one frame type byte
// followed by the payload.
const (
	FrameAudio byte = 0x00
)

// Message is the top-level wrapper for all control messages.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// SessionHello is sent by a client to open a voice session.
type SessionHello struct {
	Name            string `json:"name,omitempty"`
	SampleRate      int    `json:"sample_rate"`       // playback rate the client expects
	InputSampleRate int    `json:"input_sample_rate"` // rate of microphone audio it will send
}

// SessionReady acknowledges a hello and assigns the session identity.
type SessionReady struct {
	SessionID       string `json:"session_id"`
	SampleRate      int    `json:"sample_rate"`
	InputSampleRate int    `json:"input_sample_rate"`
}

// SessionEnd terminates a session. Sent by either side.
type SessionEnd struct {
	Reason string `json:"reason,omitempty"` // "client_request", "upstream_closed", "inactivity"
}

// ErrorInfo reports a non-fatal protocol error.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseMessage decodes a JSON control message, leaving the payload raw for
// the caller to route on Type.
func ParseMessage(data []byte) (string, json.RawMessage, error) {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("message has no type")
	}
	return env.Type, env.Payload, nil
}

// EncodeAudioFrame wraps raw PCM bytes in a binary audio frame.
func EncodeAudioFrame(pcm []byte) []byte {
	frame := make([]byte, 1+len(pcm))
	frame[0] = FrameAudio
	copy(frame[1:], pcm)
	return frame
}

// ParseBinaryFrame splits a binary message into its frame type and payload.
func ParseBinaryFrame(data []byte) (byte, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("binary frame too short")
	}
	return data[0], data[1:], nil
}
