// ABOUTME: WebSocket relay server between browser clients and the AI endpoint
// ABOUTME: Manages client connections, session bridges, and the HTTP surface
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Talkwire-Protocol/talkwire-go/internal/metrics"
	"github.com/Talkwire-Protocol/talkwire-go/internal/upstream"
	"github.com/Talkwire-Protocol/talkwire-go/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds relay server configuration.
type Config struct {
	ListenAddr      string
	Name            string
	UpstreamURL     string
	UpstreamAPIKey  string
	SampleRate      int
	InputSampleRate int
	IdleTimeout     time.Duration
}

// dialFunc opens a connection to the upstream AI endpoint for one session.
// Swappable in tests.
type dialFunc func(hello protocol.SessionHello) (upstreamConn, <-chan []byte, <-chan upstream.Event, error)

// Server relays voice sessions between browser clients and the upstream AI
// endpoint.
type Server struct {
	config  Config
	relayID string
	metrics *metrics.Metrics
	dial    dialFunc

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Bridge management
	bridges   map[string]*Bridge
	bridgesMu sync.RWMutex

	// Control
	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// New creates a relay server.
func New(config Config, m *metrics.Metrics) *Server {
	s := &Server{
		config:  config,
		relayID: uuid.New().String(),
		metrics: m,
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Browser clients on the local network; non-browser clients
				// send no Origin at all.
				origin := r.Header.Get("Origin")
				if origin != "" {
					log.Printf("Accepting WebSocket from origin: %s", origin)
				}
				return true
			},
		},
		bridges:  make(map[string]*Bridge),
		stopChan: make(chan struct{}),
	}

	s.dial = s.dialUpstream
	return s
}

// dialUpstream opens the real upstream connection for a new session.
func (s *Server) dialUpstream(hello protocol.SessionHello) (upstreamConn, <-chan []byte, <-chan upstream.Event, error) {
	client := upstream.NewClient(upstream.Config{
		URL:             s.config.UpstreamURL,
		APIKey:          s.config.UpstreamAPIKey,
		Name:            hello.Name,
		SampleRate:      s.config.SampleRate,
		InputSampleRate: s.config.InputSampleRate,
	})
	if err := client.Connect(); err != nil {
		return nil, nil, nil, err
	}
	return client, client.AudioChunks, client.Events, nil
}

// Start runs the relay until Stop is called or the listener fails.
func (s *Server) Start() error {
	log.Printf("Relay starting: %s (ID: %s)", s.config.Name, s.relayID)

	s.mux.HandleFunc("/talkwire", s.handleWebSocket)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())

	log.Printf("WebSocket relay listening on %s", s.config.ListenAddr)

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		log.Printf("Relay shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
	}

	// Reject new connections while draining
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	s.bridgesMu.RLock()
	for _, b := range s.bridges {
		b.Shutdown()
	}
	s.bridgesMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.wg.Wait()
	log.Printf("Relay stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the relay.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// ActiveBridges returns the number of live sessions.
func (s *Server) ActiveBridges() int {
	s.bridgesMu.RLock()
	defer s.bridgesMu.RUnlock()
	return len(s.bridges)
}

// handleHealth reports liveness and the active session count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"relay_id": s.relayID,
		"sessions": s.ActiveBridges(),
	})
}

// handleWebSocket upgrades a browser connection and hands it to a bridge.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

// handleConnection performs the session handshake and runs the bridge.
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		log.Printf("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	// Wait for session/hello
	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}

	msgType, payload, err := protocol.ParseMessage(data)
	if err != nil {
		log.Printf("Error parsing hello: %v", err)
		return
	}
	if msgType != protocol.TypeSessionHello {
		log.Printf("Expected %s, got %s", protocol.TypeSessionHello, msgType)
		return
	}

	var hello protocol.SessionHello
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &hello); err != nil {
			log.Printf("Error parsing hello payload: %v", err)
			return
		}
	}

	up, audio, events, err := s.dial(hello)
	if err != nil {
		log.Printf("Upstream dial failed: %v", err)
		if s.metrics != nil {
			s.metrics.UpstreamErrors.Inc()
		}
		writeError(conn, "upstream_unavailable", "could not reach the AI endpoint")
		return
	}

	bridge := NewBridge(conn, up, audio, events, BridgeConfig{
		SampleRate:      s.config.SampleRate,
		InputSampleRate: s.config.InputSampleRate,
		IdleTimeout:     s.config.IdleTimeout,
		Metrics:         s.metrics,
	})

	s.bridgesMu.Lock()
	s.bridges[bridge.SessionID] = bridge
	s.bridgesMu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSessionStarted()
	}
	log.Printf("Session %s started for %s", bridge.SessionID, conn.RemoteAddr())

	defer func() {
		s.bridgesMu.Lock()
		delete(s.bridges, bridge.SessionID)
		s.bridgesMu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordSessionEnded(bridge.Reason(), bridge.Duration().Seconds())
		}
		log.Printf("Session %s ended: %s", bridge.SessionID, bridge.Reason())
	}()

	bridge.Run()
}

// writeError sends a protocol error message before closing a connection.
func writeError(conn *websocket.Conn, code, message string) {
	msg := protocol.Message{
		Type:    protocol.TypeError,
		Payload: protocol.ErrorInfo{Code: code, Message: message},
	}
	if data, err := json.Marshal(msg); err == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}
