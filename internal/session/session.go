// ABOUTME: Per-session event loop tying upstream traffic to playback
// ABOUTME: Routes audio and control signals, enforces the inactivity timeout
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Talkwire-Protocol/talkwire-go/internal/upstream"
	"github.com/Talkwire-Protocol/talkwire-go/pkg/protocol"
	"github.com/google/uuid"
)

// Player is the playback surface a session drives. Satisfied by
// player.Scheduler.
type Player interface {
	Ingest(raw []byte)
	TurnComplete()
	Interrupt()
	Close() error
}

// End reasons reported by Wait.
const (
	ReasonUpstreamClosed = "upstream_closed"
	ReasonInactivity     = "inactivity"
	ReasonClientRequest  = "client_request"
	ReasonCancelled      = "cancelled"
)

// Session owns one voice conversation: a stream of audio chunks and control
// signals from the upstream endpoint, driven into a playback scheduler.
type Session struct {
	ID string

	player      Player
	audio       <-chan []byte
	events      <-chan upstream.Event
	idleTimeout time.Duration

	started time.Time

	mu     sync.Mutex
	reason string
	done   chan struct{}
}

// New creates a session around an upstream client's channels.
func New(player Player, audio <-chan []byte, events <-chan upstream.Event, idleTimeout time.Duration) *Session {
	return &Session{
		ID:          uuid.New().String(),
		player:      player,
		audio:       audio,
		events:      events,
		idleTimeout: idleTimeout,
		started:     time.Now(),
		done:        make(chan struct{}),
	}
}

// Run drives the session until the upstream ends it, the context is
// cancelled, or the inactivity timeout fires. It owns the player: playback is
// closed before Run returns.
func (s *Session) Run(ctx context.Context) {
	defer s.finish()

	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setReason(ReasonCancelled)
			return

		case <-idle.C:
			log.Printf("Session %s: no activity for %v, ending", s.ID, s.idleTimeout)
			s.setReason(ReasonInactivity)
			return

		case pcm, ok := <-s.audio:
			if !ok {
				s.setReason(ReasonUpstreamClosed)
				return
			}
			s.player.Ingest(pcm)
			resetTimer(idle, s.idleTimeout)

		case ev, ok := <-s.events:
			if !ok {
				s.setReason(ReasonUpstreamClosed)
				return
			}
			resetTimer(idle, s.idleTimeout)
			if ended := s.handleEvent(ev); ended {
				return
			}
		}
	}
}

// handleEvent routes one control signal. Returns true when the session is
// over.
func (s *Session) handleEvent(ev upstream.Event) bool {
	switch ev.Type {
	case protocol.TypeTurnComplete:
		s.player.TurnComplete()

	case protocol.TypeInterruption:
		s.player.Interrupt()

	case protocol.TypeSessionEnd:
		reason := ReasonUpstreamClosed
		if ev.End != nil && ev.End.Reason != "" {
			reason = ev.End.Reason
		}
		s.setReason(reason)
		return true

	case protocol.TypeError:
		if ev.Err != nil {
			log.Printf("Session %s: upstream error %s: %s", s.ID, ev.Err.Code, ev.Err.Message)
		}

	default:
		log.Printf("Session %s: unhandled event %q", s.ID, ev.Type)
	}
	return false
}

func (s *Session) finish() {
	if err := s.player.Close(); err != nil {
		log.Printf("Session %s: player close: %v", s.ID, err)
	}
	close(s.done)
}

func (s *Session) setReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		s.reason = reason
	}
}

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Reason reports why the session ended. Empty while running.
func (s *Session) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Duration reports how long the session has been (or was) alive.
func (s *Session) Duration() time.Duration {
	return time.Since(s.started)
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
