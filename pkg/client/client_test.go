package client

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

	"github.com/vango-dev/yrelay/pkg/document/memdoc"
	"github.com/vango-dev/yrelay/pkg/protocol"
	"github.com/vango-dev/yrelay/pkg/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newRelay(t *testing.T) (*server.Server, string) {
	t.Helper()
	cfg := server.DefaultServerConfig().
		WithLogger(testLogger()).
		WithEventSink(server.NewLogSink(testLogger()))
	cfg.CheckOrigin = server.AllowAllOrigins
	cfg.ShutdownTimeout = 2 * time.Second

	s := server.New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url, room string, doc *memdoc.Doc, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	c, err := Dial(ctx, url, room, doc, opts...)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitSynced(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForSync(ctx); err != nil {
		t.Fatalf("WaitForSync() error = %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRoomURL(t *testing.T) {
	tests := []struct {
		server string
		room   string
		want   string
	}{
		{"ws://localhost:1234", "notes", "ws://localhost:1234/ws/notes"},
		{"ws://localhost:1234/", "notes", "ws://localhost:1234/ws/notes"},
		{"wss://relay.example.com/base", "a b", "wss://relay.example.com/base/ws/a%20b"},
	}
	for _, tc := range tests {
		got, err := RoomURL(tc.server, tc.room)
		if err != nil {
			t.Fatalf("RoomURL(%q, %q) error = %v", tc.server, tc.room, err)
		}
		if got != tc.want {
			t.Errorf("RoomURL(%q, %q) = %q, want %q", tc.server, tc.room, got, tc.want)
		}
	}
}

func TestClient_InitialSyncFromSeededRoom(t *testing.T) {
	s, url := newRelay(t)
	seed, err := memdoc.New(7).Edit([]byte("seed"))
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if _, err := s.Registry().ApplyUpdate("notes", seed); err != nil {
		t.Fatalf("ApplyUpdate() error = %v", err)
	}

	doc := memdoc.New(1)
	c := dial(t, url, "notes", doc)
	waitSynced(t, c)

	if doc.Len() != 1 || string(doc.Ops()[0].Payload) != "seed" {
		t.Errorf("doc ops = %+v, want the seed", doc.Ops())
	}
}

func TestClient_EmptyRoomWaitsForFirstUpdate(t *testing.T) {
	_, url := newRelay(t)

	a := dial(t, url, "notes", memdoc.New(1))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := a.WaitForSync(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitForSync() on empty room error = %v, want deadline exceeded", err)
	}

	peer := memdoc.New(2)
	b := dial(t, url, "notes", peer)
	u, err := peer.Edit([]byte("hi"))
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if err := b.SendUpdate(u); err != nil {
		t.Fatalf("SendUpdate() error = %v", err)
	}
	waitSynced(t, a)
}

func TestClient_TwoClientsConverge(t *testing.T) {
	s, url := newRelay(t)

	docA := memdoc.New(1)
	docB := memdoc.New(2)
	a := dial(t, url, "notes", docA)
	b := dial(t, url, "notes", docB)

	for i, p := range []string{"a1", "a2"} {
		u, err := docA.Edit([]byte(p))
		if err != nil {
			t.Fatalf("Edit(%d) error = %v", i, err)
		}
		if err := a.SendUpdate(u); err != nil {
			t.Fatalf("SendUpdate() error = %v", err)
		}
	}
	u, err := docB.Edit([]byte("b1"))
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if err := b.SendUpdate(u); err != nil {
		t.Fatalf("SendUpdate() error = %v", err)
	}

	eventually(t, "both documents to hold three ops", func() bool {
		return docA.Len() == 3 && docB.Len() == 3
	})

	doc, err := s.Registry().Document("notes")
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if got := doc.(*memdoc.Doc).Len(); got != 3 {
		t.Errorf("server doc Len() = %d, want 3", got)
	}
}

func TestClient_PushesLocalStateOnConnect(t *testing.T) {
	_, url := newRelay(t)

	offline := memdoc.New(1)
	if _, err := offline.Edit([]byte("written offline")); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	dial(t, url, "notes", offline)

	late := memdoc.New(2)
	c := dial(t, url, "notes", late)
	waitSynced(t, c)

	if late.Len() != 1 || string(late.Ops()[0].Payload) != "written offline" {
		t.Errorf("late doc ops = %+v, want the offline edit", late.Ops())
	}
}

func TestClient_AwarenessReachesHandler(t *testing.T) {
	_, url := newRelay(t)

	got := make(chan []byte, 1)
	handler := HandlerFuncs{
		Message: func(msg *protocol.Message) {
			if msg.Type == protocol.MessageAwareness {
				got <- msg.Payload
			}
		},
	}
	dial(t, url, "notes", memdoc.New(1), WithHandler(handler))
	sender := dial(t, url, "notes", memdoc.New(2))

	if err := sender.SendAwareness([]byte("cursor:4")); err != nil {
		t.Fatalf("SendAwareness() error = %v", err)
	}
	select {
	case p := <-got:
		if string(p) != "cursor:4" {
			t.Errorf("awareness = %q, want cursor:4", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("awareness not delivered")
	}
}

func TestClient_Close(t *testing.T) {
	_, url := newRelay(t)

	var mu sync.Mutex
	var events []string
	record := func(e string) func() {
		return func() {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}
	}
	c := dial(t, url, "notes", memdoc.New(1), WithHandler(HandlerFuncs{
		Connect:    record("connect"),
		Disconnect: record("disconnect"),
	}))

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed")
	}
	if err := c.SendUpdate([]byte{0}); !errors.Is(err, ErrClosed) {
		t.Errorf("SendUpdate() after Close error = %v, want ErrClosed", err)
	}
	if err := c.WaitForSync(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("WaitForSync() after Close error = %v, want ErrClosed", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != "connect" || events[1] != "disconnect" {
		t.Errorf("events = %v, want [connect disconnect]", events)
	}
}

func TestClient_DialError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1", "notes", memdoc.New(1), WithLogger(testLogger())); err == nil {
		t.Error("Dial() to closed port succeeded")
	}
}
