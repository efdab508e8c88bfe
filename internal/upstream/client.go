// ABOUTME: WebSocket client for the upstream conversational AI endpoint
// ABOUTME: Handles connection, session handshake, and message routing
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Talkwire-Protocol/talkwire-go/pkg/protocol"
	"github.com/gorilla/websocket"
)

// Config holds upstream client configuration.
type Config struct {
	URL             string // full WebSocket URL, e.g. wss://ai.example.com/v1/voice
	APIKey          string
	Name            string
	SampleRate      int // playback rate expected from upstream
	InputSampleRate int // rate of microphone audio sent upstream
}

// Event is a control signal received from the upstream endpoint.
type Event struct {
	Type string
	End  *protocol.SessionEnd
	Err  *protocol.ErrorInfo
}

// Client maintains one WebSocket session with the AI endpoint. Incoming
// traffic is routed onto typed channels; the owner drains them.
type Client struct {
	config Config
	conn   *websocket.Conn
	mu     sync.RWMutex

	// Message channels
	AudioChunks chan []byte
	Events      chan Event

	// State
	sessionID string
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates an upstream client. Connect must be called before use.
func NewClient(config Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:      config,
		AudioChunks: make(chan []byte, 100),
		Events:      make(chan Event, 10),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Connect establishes the WebSocket connection and performs the session
// handshake.
func (c *Client) Connect() error {
	log.Printf("Connecting to %s", c.config.URL)

	header := http.Header{}
	if c.config.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.config.URL, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	// Start message reader
	go c.readMessages()

	return nil
}

// handshake exchanges session/hello for session/ready.
func (c *Client) handshake() error {
	hello := protocol.Message{
		Type: protocol.TypeSessionHello,
		Payload: protocol.SessionHello{
			Name:            c.config.Name,
			SampleRate:      c.config.SampleRate,
			InputSampleRate: c.config.InputSampleRate,
		},
	}

	if err := c.sendJSON(hello); err != nil {
		return fmt.Errorf("failed to send session/hello: %w", err)
	}

	// Wait for session/ready (with timeout)
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read session/ready: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{}) // Clear deadline

	msgType, payload, err := protocol.ParseMessage(data)
	if err != nil {
		return fmt.Errorf("failed to parse session/ready: %w", err)
	}
	if msgType != protocol.TypeSessionReady {
		return fmt.Errorf("expected %s, got %s", protocol.TypeSessionReady, msgType)
	}

	var ready protocol.SessionReady
	if err := decodePayload(payload, &ready); err != nil {
		return fmt.Errorf("invalid session/ready payload: %w", err)
	}

	c.mu.Lock()
	c.sessionID = ready.SessionID
	c.mu.Unlock()

	log.Printf("Session %s established, playback %dHz, input %dHz",
		ready.SessionID, ready.SampleRate, ready.InputSampleRate)
	return nil
}

// sendJSON sends a JSON control message.
func (c *Client) sendJSON(msg protocol.Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return fmt.Errorf("not connected")
	}

	return c.conn.WriteJSON(msg)
}

// SendAudio sends one chunk of microphone PCM upstream as a binary frame.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return fmt.Errorf("not connected")
	}

	return c.conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeAudioFrame(pcm))
}

// SendEnd asks the upstream endpoint to terminate the session.
func (c *Client) SendEnd(reason string) error {
	return c.sendJSON(protocol.Message{
		Type:    protocol.TypeSessionEnd,
		Payload: protocol.SessionEnd{Reason: reason},
	})
}

// readMessages reads and routes incoming messages until the connection drops.
func (c *Client) readMessages() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Printf("Read error: %v", err)
			return
		}

		if messageType == websocket.BinaryMessage {
			c.handleBinaryMessage(data)
		} else if messageType == websocket.TextMessage {
			c.handleJSONMessage(data)
		}
	}
}

// handleBinaryMessage handles audio frames.
func (c *Client) handleBinaryMessage(data []byte) {
	frameType, pcm, err := protocol.ParseBinaryFrame(data)
	if err != nil {
		log.Printf("Invalid binary frame: %v", err)
		return
	}
	if frameType != protocol.FrameAudio {
		log.Printf("Unknown binary frame type: %d", frameType)
		return
	}

	select {
	case c.AudioChunks <- pcm:
	case <-c.ctx.Done():
	}
}

// handleJSONMessage routes control messages.
func (c *Client) handleJSONMessage(data []byte) {
	msgType, payload, err := protocol.ParseMessage(data)
	if err != nil {
		log.Printf("Failed to parse control message: %v", err)
		return
	}

	event := Event{Type: msgType}

	switch msgType {
	case protocol.TypeTurnComplete, protocol.TypeInterruption:
		// Signal only, no payload.

	case protocol.TypeSessionEnd:
		var end protocol.SessionEnd
		if err := decodePayload(payload, &end); err != nil {
			log.Printf("Invalid session_end payload: %v", err)
		}
		event.End = &end

	case protocol.TypeError:
		var info protocol.ErrorInfo
		if err := decodePayload(payload, &info); err != nil {
			log.Printf("Invalid error payload: %v", err)
		}
		log.Printf("Upstream error: %s: %s", info.Code, info.Message)
		event.Err = &info

	default:
		log.Printf("Unknown message type: %s", msgType)
		return
	}

	select {
	case c.Events <- event:
	case <-c.ctx.Done():
	}
}

// SessionID returns the identifier assigned by the upstream endpoint.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// IsConnected returns connection status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// decodePayload unmarshals a control payload, tolerating its absence.
func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Close closes the connection. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.cancel()
		c.conn.Close()
		log.Printf("Upstream connection closed")
	}
}
