// ABOUTME: Per-session bridge between one browser client and the AI endpoint
// ABOUTME: Pumps audio both directions and forwards control signals
package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Talkwire-Protocol/talkwire-go/internal/metrics"
	"github.com/Talkwire-Protocol/talkwire-go/internal/upstream"
	"github.com/Talkwire-Protocol/talkwire-go/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// End reasons reported by Reason.
const (
	ReasonClientRequest      = "client_request"
	ReasonClientDisconnected = "client_disconnected"
	ReasonUpstreamClosed     = "upstream_closed"
	ReasonInactivity         = "inactivity"
	ReasonShutdown           = "shutdown"
)

// upstreamConn is the slice of the upstream client a bridge writes to.
// Incoming traffic arrives on the channels handed to NewBridge.
type upstreamConn interface {
	SendAudio(pcm []byte) error
	SendEnd(reason string) error
	Close()
}

// BridgeConfig holds per-bridge settings.
type BridgeConfig struct {
	SampleRate      int
	InputSampleRate int
	IdleTimeout     time.Duration
	Metrics         *metrics.Metrics
}

// closeMsg is a sentinel queued on the send channel: the writer delivers a
// session_end to the client, then tears the bridge down.
type closeMsg struct {
	reason string
}

// Bridge relays one session: binary audio frames flow both directions,
// control signals from the upstream are forwarded to the client.
type Bridge struct {
	SessionID string

	conn   *websocket.Conn
	up     upstreamConn
	audio  <-chan []byte
	events <-chan upstream.Event
	cfg    BridgeConfig

	started  time.Time
	sendChan chan interface{}
	activity chan struct{}

	done    chan struct{}
	endOnce sync.Once
	wg      sync.WaitGroup

	mu     sync.Mutex
	reason string
}

// NewBridge wires a client connection to an established upstream session.
func NewBridge(conn *websocket.Conn, up upstreamConn, audio <-chan []byte, events <-chan upstream.Event, cfg BridgeConfig) *Bridge {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	return &Bridge{
		SessionID: uuid.New().String(),
		conn:      conn,
		up:        up,
		audio:     audio,
		events:    events,
		cfg:       cfg,
		started:   time.Now(),
		sendChan:  make(chan interface{}, 100),
		activity:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Run drives the bridge until either side ends the session. It blocks until
// the bridge has fully shut down.
func (b *Bridge) Run() {
	ready := protocol.Message{
		Type: protocol.TypeSessionReady,
		Payload: protocol.SessionReady{
			SessionID:       b.SessionID,
			SampleRate:      b.cfg.SampleRate,
			InputSampleRate: b.cfg.InputSampleRate,
		},
	}
	if err := b.conn.WriteJSON(ready); err != nil {
		log.Printf("Bridge %s: failed to send ready: %v", b.SessionID, err)
		b.end(ReasonClientDisconnected)
		return
	}

	b.wg.Add(2)
	go b.clientWriter()
	go b.pumpUpstream()

	b.readClient()
	b.wg.Wait()
}

// Shutdown ends the bridge during relay shutdown, telling the client why.
func (b *Bridge) Shutdown() {
	b.queueClose(ReasonShutdown)
}

// readClient reads browser messages until the connection drops or the client
// ends the session.
func (b *Bridge) readClient() {
	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Bridge %s: client read error: %v", b.SessionID, err)
			}
			b.end(ReasonClientDisconnected)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			frameType, pcm, err := protocol.ParseBinaryFrame(data)
			if err != nil || frameType != protocol.FrameAudio {
				log.Printf("Bridge %s: bad binary frame from client", b.SessionID)
				continue
			}
			if err := b.up.SendAudio(pcm); err != nil {
				log.Printf("Bridge %s: upstream send failed: %v", b.SessionID, err)
				if b.cfg.Metrics != nil {
					b.cfg.Metrics.UpstreamErrors.Inc()
				}
				b.end(ReasonUpstreamClosed)
				return
			}
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.RecordUpstreamChunk(len(pcm))
			}
			b.touch()

		case websocket.TextMessage:
			msgType, _, err := protocol.ParseMessage(data)
			if err != nil {
				log.Printf("Bridge %s: bad control message from client: %v", b.SessionID, err)
				continue
			}
			b.touch()
			if msgType == protocol.TypeSessionEnd {
				if err := b.up.SendEnd(ReasonClientRequest); err != nil {
					log.Printf("Bridge %s: upstream end failed: %v", b.SessionID, err)
				}
				b.end(ReasonClientRequest)
				return
			}
			log.Printf("Bridge %s: unexpected client message %q", b.SessionID, msgType)
		}
	}
}

// pumpUpstream forwards upstream audio and control signals to the client and
// enforces the inactivity timeout.
func (b *Bridge) pumpUpstream() {
	defer b.wg.Done()

	idle := time.NewTimer(b.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-b.done:
			return

		case <-b.activity:
			resetTimer(idle, b.cfg.IdleTimeout)

		case <-idle.C:
			log.Printf("Bridge %s: no activity for %v, ending", b.SessionID, b.cfg.IdleTimeout)
			if err := b.up.SendEnd(ReasonInactivity); err != nil {
				log.Printf("Bridge %s: upstream end failed: %v", b.SessionID, err)
			}
			b.queueClose(ReasonInactivity)
			return

		case pcm, ok := <-b.audio:
			if !ok {
				b.queueClose(ReasonUpstreamClosed)
				return
			}
			b.queueSend(protocol.EncodeAudioFrame(pcm))
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.RecordDownstreamChunk(len(pcm))
			}
			resetTimer(idle, b.cfg.IdleTimeout)

		case ev, ok := <-b.events:
			if !ok {
				b.queueClose(ReasonUpstreamClosed)
				return
			}
			resetTimer(idle, b.cfg.IdleTimeout)
			if ended := b.forwardEvent(ev); ended {
				return
			}
		}
	}
}

// forwardEvent relays one upstream control signal. Returns true when the
// signal ends the session.
func (b *Bridge) forwardEvent(ev upstream.Event) bool {
	switch ev.Type {
	case protocol.TypeTurnComplete:
		b.queueSend(protocol.Message{Type: protocol.TypeTurnComplete})
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.TurnsCompleted.Inc()
		}

	case protocol.TypeInterruption:
		b.queueSend(protocol.Message{Type: protocol.TypeInterruption})
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.Interruptions.Inc()
		}

	case protocol.TypeSessionEnd:
		reason := ReasonUpstreamClosed
		if ev.End != nil && ev.End.Reason != "" {
			reason = ev.End.Reason
		}
		b.queueClose(reason)
		return true

	case protocol.TypeError:
		if ev.Err != nil {
			b.queueSend(protocol.Message{Type: protocol.TypeError, Payload: *ev.Err})
		}

	default:
		log.Printf("Bridge %s: unhandled upstream event %q", b.SessionID, ev.Type)
	}
	return false
}

// clientWriter owns all writes to the client connection.
func (b *Bridge) clientWriter() {
	defer b.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case <-b.done:
			return

		case msg := <-b.sendChan:
			b.conn.SetWriteDeadline(time.Now().Add(writeDeadline))

			switch v := msg.(type) {
			case closeMsg:
				end := protocol.Message{
					Type:    protocol.TypeSessionEnd,
					Payload: protocol.SessionEnd{Reason: v.reason},
				}
				if data, err := json.Marshal(end); err == nil {
					b.conn.WriteMessage(websocket.TextMessage, data)
				}
				b.end(v.reason)
				return

			case []byte:
				if err := b.conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					log.Printf("Bridge %s: binary write failed: %v", b.SessionID, err)
					b.end(ReasonClientDisconnected)
					return
				}

			default:
				data, err := json.Marshal(v)
				if err != nil {
					log.Printf("Bridge %s: marshal failed: %v", b.SessionID, err)
					continue
				}
				if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Printf("Bridge %s: text write failed: %v", b.SessionID, err)
					b.end(ReasonClientDisconnected)
					return
				}
			}

		case <-ticker.C:
			if err := b.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				b.end(ReasonClientDisconnected)
				return
			}
		}
	}
}

// queueSend enqueues a message for the writer, dropping it if the bridge is
// already down.
func (b *Bridge) queueSend(msg interface{}) {
	select {
	case b.sendChan <- msg:
	case <-b.done:
	}
}

// queueClose asks the writer to deliver a session_end then shut down. Falls
// back to a hard end if the writer is gone or the queue is full.
func (b *Bridge) queueClose(reason string) {
	select {
	case b.sendChan <- closeMsg{reason: reason}:
	default:
		b.end(reason)
	}
}

// touch records client-side activity for the inactivity timer.
func (b *Bridge) touch() {
	select {
	case b.activity <- struct{}{}:
	default:
	}
}

// end tears the bridge down once: records the reason, closes the upstream,
// and closes the client connection to unblock the reader.
func (b *Bridge) end(reason string) {
	b.endOnce.Do(func() {
		b.mu.Lock()
		b.reason = reason
		b.mu.Unlock()

		close(b.done)
		b.up.Close()
		b.conn.Close()
	})
}

// Reason reports why the bridge ended. Empty while running.
func (b *Bridge) Reason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Duration reports how long the bridge has been (or was) alive.
func (b *Bridge) Duration() time.Duration {
	return time.Since(b.started)
}

// resetTimer safely rearms a timer that may have fired.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
