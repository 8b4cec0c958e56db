package server

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one client WebSocket connection.
type Session struct {
	// Identity
	ID   string
	Room string

	// Connection
	conn   *websocket.Conn
	config *SessionConfig

	// Outbound queue drained by WriteLoop
	send chan []byte

	// Lifecycle
	done        chan struct{}
	closed      atomic.Bool
	closeCode   int
	closeReason string

	// Activity
	CreatedAt  time.Time
	lastActive atomic.Int64 // unix nanos

	// Counters
	bytesSent  atomic.Uint64
	bytesRecv  atomic.Uint64
	framesRecv atomic.Uint64

	stats  *StatsCollector
	logger *slog.Logger
}

var _ Conn = (*Session)(nil)

// generateClientID returns a random client id.
func generateClientID() string {
	return uuid.NewString()
}

func newSession(conn *websocket.Conn, roomName string, config *SessionConfig, stats *StatsCollector, logger *slog.Logger) *Session {
	id := generateClientID()
	now := time.Now()
	s := &Session{
		ID:        id,
		Room:      roomName,
		conn:      conn,
		config:    config,
		send:      make(chan []byte, config.SendQueueSize),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
		CreatedAt: now,
		stats:     stats,
		logger:    logger.With("client_id", id, "room", roomName),
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

// Send queues data for the write loop. It never blocks: when the queue is
// full the session is closed and ErrSendQueueFull is returned.
func (s *Session) Send(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.send <- data:
		return nil
	default:
		s.stats.RecordQueueOverflow()
		s.logger.Warn("send queue full, closing connection", "queue_size", cap(s.send))
		s.closeWith(websocket.CloseTryAgainLater, "send queue full")
		return ErrSendQueueFull
	}
}

// IsOpen reports whether the session still accepts frames.
func (s *Session) IsOpen() bool {
	return !s.closed.Load()
}

// Close closes the session with a normal closure.
func (s *Session) Close() {
	s.closeWith(websocket.CloseNormalClosure, "")
}

// CloseWithReason closes the session with the given close code and reason.
func (s *Session) CloseWithReason(code int, reason string) {
	s.closeWith(code, reason)
}

func (s *Session) closeWith(code int, reason string) {
	if s.closed.Swap(true) {
		return
	}
	s.closeCode = code
	s.closeReason = reason
	close(s.done)
}

// Done returns a channel that's closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// LastActive returns the time of the last inbound frame or pong.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// SessionStats contains per-connection counters.
type SessionStats struct {
	ID         string    `json:"id"`
	Room       string    `json:"room"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	FramesRecv uint64    `json:"frames_recv"`
	BytesRecv  uint64    `json:"bytes_recv"`
	BytesSent  uint64    `json:"bytes_sent"`
	QueueLen   int       `json:"queue_len"`
}

// Stats returns the session's counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		ID:         s.ID,
		Room:       s.Room,
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
		FramesRecv: s.framesRecv.Load(),
		BytesRecv:  s.bytesRecv.Load(),
		BytesSent:  s.bytesSent.Load(),
		QueueLen:   len(s.send),
	}
}
