package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/yrelay/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeConn records every frame sent to it.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.frames
	c.frames = nil
	return out
}

func (c *fakeConn) takeMessages(t *testing.T) []*protocol.Message {
	t.Helper()
	var out []*protocol.Message
	for _, f := range c.take() {
		m, err := protocol.DecodeMessage(f)
		if err != nil {
			t.Fatalf("DecodeMessage(%v) error = %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

// recordingSink records events and exposes errors on a channel.
type recordingSink struct {
	mu          sync.Mutex
	connects    []string
	disconnects []string
	messages    []*protocol.Message

	connectCh    chan string
	disconnectCh chan string
	errCh        chan error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		connectCh:    make(chan string, 16),
		disconnectCh: make(chan string, 16),
		errCh:        make(chan error, 16),
	}
}

func (s *recordingSink) OnConnect(id string) {
	s.mu.Lock()
	s.connects = append(s.connects, id)
	s.mu.Unlock()
	s.connectCh <- id
}

func (s *recordingSink) OnDisconnect(id string) {
	s.mu.Lock()
	s.disconnects = append(s.disconnects, id)
	s.mu.Unlock()
	s.disconnectCh <- id
}

func (s *recordingSink) OnMessage(_ string, msg *protocol.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}

func (s *recordingSink) OnError(_ string, err error) {
	s.errCh <- err
}

func (s *recordingSink) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", what)
}

func newTestServer(t *testing.T, sink EventSink) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultServerConfig().
		WithLogger(testLogger()).
		WithEventSink(sink)
	cfg.CheckOrigin = AllowAllOrigins
	cfg.ShutdownTimeout = 2 * time.Second

	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, ts
}

func wsURL(t *testing.T, baseURL, path string) string {
	t.Helper()
	if !strings.HasPrefix(baseURL, "http") {
		t.Fatalf("unexpected base URL: %q", baseURL)
	}
	return "ws" + strings.TrimPrefix(baseURL, "http") + path
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%q) failed: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dialRoom connects to roomName and consumes the server's opening
// SYNC_REQUEST.
func dialRoom(t *testing.T, ts *httptest.Server, roomName string) *websocket.Conn {
	t.Helper()
	conn := dialWS(t, wsURL(t, ts.URL, "/ws/"+roomName))
	msg := readMessage(t, conn)
	sm, err := protocol.DecodeSync(msg.Payload)
	if msg.Type != protocol.MessageSync || err != nil || sm.Type != protocol.SyncRequest {
		t.Fatalf("opening frame = %v, want SYNC_REQUEST", msg)
	}
	return conn
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg *protocol.Message) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, msg.Encode()); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", mt)
	}
	return data
}

func readMessage(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	msg, err := protocol.DecodeMessage(readRaw(t, conn))
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	return msg
}

func readSync(t *testing.T, conn *websocket.Conn) *protocol.SyncMessage {
	t.Helper()
	msg := readMessage(t, conn)
	if msg.Type != protocol.MessageSync {
		t.Fatalf("message type = %v, want Sync", msg.Type)
	}
	sm, err := protocol.DecodeSync(msg.Payload)
	if err != nil {
		t.Fatalf("DecodeSync failed: %v", err)
	}
	return sm
}

// expectSilence fails if conn receives anything within d. The connection is
// unusable for reads afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(d))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame %v", data)
	}
	var ne interface{ Timeout() bool }
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("read error = %v, want timeout", err)
	}
}
