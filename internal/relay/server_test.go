// ABOUTME: Tests for the relay server and session bridge
// ABOUTME: Drives a real WebSocket client against a faked upstream endpoint
package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Talkwire-Protocol/talkwire-go/internal/upstream"
	"github.com/Talkwire-Protocol/talkwire-go/pkg/protocol"
	"github.com/gorilla/websocket"
)

type fakeUpstream struct {
	mu      sync.Mutex
	sent    [][]byte
	endSent []string
	closed  bool
	sendErr error
}

func (f *fakeUpstream) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	f.sent = append(f.sent, buf)
	return nil
}

func (f *fakeUpstream) SendEnd(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endSent = append(f.endSent, reason)
	return nil
}

func (f *fakeUpstream) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeUpstream) audioSent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeUpstream) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeUpstream) endReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.endSent...)
}

// testRelay builds a relay whose upstream dial hands back channels the test
// controls.
func testRelay(t *testing.T, idleTimeout time.Duration) (*Server, *fakeUpstream, chan []byte, chan upstream.Event, *httptest.Server) {
	t.Helper()

	fake := &fakeUpstream{}
	audio := make(chan []byte, 16)
	events := make(chan upstream.Event, 16)

	s := New(Config{
		ListenAddr:      ":0",
		Name:            "test-relay",
		SampleRate:      24000,
		InputSampleRate: 16000,
		IdleTimeout:     idleTimeout,
	}, nil)
	s.dial = func(hello protocol.SessionHello) (upstreamConn, <-chan []byte, <-chan upstream.Event, error) {
		return fake, audio, events, nil
	}

	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(srv.Close)
	return s, fake, audio, events, srv
}

// dialRelay connects and completes the session handshake, returning the
// client connection and the assigned session id.
func dialRelay(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	hello := protocol.Message{
		Type:    protocol.TypeSessionHello,
		Payload: protocol.SessionHello{Name: "test-client", SampleRate: 24000, InputSampleRate: 16000},
	}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("failed to send hello: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read ready: %v", err)
	}
	conn.SetReadDeadline(time.Time{})

	msgType, payload, err := protocol.ParseMessage(data)
	if err != nil || msgType != protocol.TypeSessionReady {
		t.Fatalf("expected session/ready, got %q (err=%v)", msgType, err)
	}

	var ready protocol.SessionReady
	if err := json.Unmarshal(payload, &ready); err != nil {
		t.Fatalf("invalid ready payload: %v", err)
	}
	if ready.SessionID == "" {
		t.Fatal("expected a session id")
	}
	return conn, ready.SessionID
}

// readText reads the next text message, skipping binary frames.
func readText(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	defer conn.SetReadDeadline(time.Time{})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msgType, payload, err := protocol.ParseMessage(data)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		return msgType, payload
	}
}

func TestHandshakeAssignsSession(t *testing.T) {
	_, _, _, events, srv := testRelay(t, time.Minute)
	conn, id := dialRelay(t, srv)
	defer conn.Close()

	if id == "" {
		t.Fatal("expected session id")
	}
	events <- upstream.Event{Type: protocol.TypeSessionEnd}
}

func TestDownstreamAudioForwarded(t *testing.T) {
	_, _, audio, events, srv := testRelay(t, time.Minute)
	conn, _ := dialRelay(t, srv)
	defer conn.Close()

	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	audio <- pcm

	conn.SetReadDeadline(time.Now().Add(time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if messageType != websocket.BinaryMessage {
		t.Fatalf("expected binary message, got %d", messageType)
	}
	frameType, payload, err := protocol.ParseBinaryFrame(data)
	if err != nil || frameType != protocol.FrameAudio {
		t.Fatalf("expected audio frame, got type %d (err=%v)", frameType, err)
	}
	if len(payload) != len(pcm) || payload[0] != 0x10 {
		t.Errorf("unexpected payload %v", payload)
	}

	events <- upstream.Event{Type: protocol.TypeSessionEnd}
}

func TestControlSignalsForwarded(t *testing.T) {
	_, _, _, events, srv := testRelay(t, time.Minute)
	conn, _ := dialRelay(t, srv)
	defer conn.Close()

	events <- upstream.Event{Type: protocol.TypeTurnComplete}
	if msgType, _ := readText(t, conn); msgType != protocol.TypeTurnComplete {
		t.Errorf("expected turn_complete, got %q", msgType)
	}

	events <- upstream.Event{Type: protocol.TypeInterruption}
	if msgType, _ := readText(t, conn); msgType != protocol.TypeInterruption {
		t.Errorf("expected interruption, got %q", msgType)
	}

	events <- upstream.Event{Type: protocol.TypeSessionEnd}
}

func TestClientAudioSentUpstream(t *testing.T) {
	_, fake, _, events, srv := testRelay(t, time.Minute)
	conn, _ := dialRelay(t, srv)
	defer conn.Close()

	pcm := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeAudioFrame(pcm)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for fake.audioSent() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("upstream never received audio")
		}
		time.Sleep(5 * time.Millisecond)
	}

	events <- upstream.Event{Type: protocol.TypeSessionEnd}
}

func TestClientEndForwardedUpstream(t *testing.T) {
	_, fake, _, _, srv := testRelay(t, time.Minute)
	conn, _ := dialRelay(t, srv)
	defer conn.Close()

	end := protocol.Message{Type: protocol.TypeSessionEnd, Payload: protocol.SessionEnd{Reason: "client_request"}}
	if err := conn.WriteJSON(end); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		reasons := fake.endReasons()
		if len(reasons) > 0 {
			if reasons[0] != ReasonClientRequest {
				t.Errorf("expected reason %q, got %q", ReasonClientRequest, reasons[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("upstream never received end")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for !fake.wasClosed() {
		if time.Now().After(deadline) {
			t.Fatal("upstream never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUpstreamEndDeliveredToClient(t *testing.T) {
	_, fake, _, events, srv := testRelay(t, time.Minute)
	conn, _ := dialRelay(t, srv)
	defer conn.Close()

	events <- upstream.Event{
		Type: protocol.TypeSessionEnd,
		End:  &protocol.SessionEnd{Reason: "upstream_closed"},
	}

	msgType, payload := readText(t, conn)
	if msgType != protocol.TypeSessionEnd {
		t.Fatalf("expected session_end, got %q", msgType)
	}
	var end protocol.SessionEnd
	if err := json.Unmarshal(payload, &end); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if end.Reason != "upstream_closed" {
		t.Errorf("expected reason upstream_closed, got %q", end.Reason)
	}

	deadline := time.Now().Add(time.Second)
	for !fake.wasClosed() {
		if time.Now().After(deadline) {
			t.Fatal("upstream never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInactivityEndsSession(t *testing.T) {
	_, fake, _, _, srv := testRelay(t, 50*time.Millisecond)
	conn, _ := dialRelay(t, srv)
	defer conn.Close()

	msgType, payload := readText(t, conn)
	if msgType != protocol.TypeSessionEnd {
		t.Fatalf("expected session_end, got %q", msgType)
	}
	var end protocol.SessionEnd
	if err := json.Unmarshal(payload, &end); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if end.Reason != ReasonInactivity {
		t.Errorf("expected reason %q, got %q", ReasonInactivity, end.Reason)
	}

	reasons := fake.endReasons()
	if len(reasons) == 0 || reasons[0] != ReasonInactivity {
		t.Errorf("expected upstream notified of inactivity, got %v", reasons)
	}
}

func TestDialFailureReportsError(t *testing.T) {
	s := New(Config{ListenAddr: ":0", Name: "test-relay", SampleRate: 24000, InputSampleRate: 16000}, nil)
	s.dial = func(hello protocol.SessionHello) (upstreamConn, <-chan []byte, <-chan upstream.Event, error) {
		return nil, nil, nil, fmt.Errorf("endpoint down")
	}
	srv := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	hello := protocol.Message{Type: protocol.TypeSessionHello}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	msgType, payload := readText(t, conn)
	if msgType != protocol.TypeError {
		t.Fatalf("expected error message, got %q", msgType)
	}
	var info protocol.ErrorInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if info.Code != "upstream_unavailable" {
		t.Errorf("expected code upstream_unavailable, got %q", info.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := New(Config{ListenAddr: ":0", Name: "test-relay"}, nil)
	srv := httptest.NewServer(http.HandlerFunc(s.handleHealth))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status   string `json:"status"`
		RelayID  string `json:"relay_id"`
		Sessions int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("expected status ok, got %q", body.Status)
	}
	if body.RelayID == "" {
		t.Error("expected a relay id")
	}
}
