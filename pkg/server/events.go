package server

import (
	"log/slog"

	"github.com/vango-dev/yrelay/pkg/protocol"
)

// EventSink receives connection lifecycle and traffic notifications.
// Implementations are called from connection goroutines and must be safe for
// concurrent use. They should return quickly.
type EventSink interface {
	// OnConnect is called after a connection is registered and joined.
	OnConnect(clientID string)

	// OnDisconnect is called after a connection has left its room and been
	// removed from the connection table.
	OnDisconnect(clientID string)

	// OnMessage is called after a decoded frame has been processed.
	OnMessage(clientID string, msg *protocol.Message)

	// OnError is called for every per-frame failure. The connection stays open.
	OnError(clientID string, err error)
}

// LogSink logs events through slog.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) OnConnect(clientID string) {
	s.logger.Info("client connected", "client_id", clientID)
}

func (s *LogSink) OnDisconnect(clientID string) {
	s.logger.Info("client disconnected", "client_id", clientID)
}

func (s *LogSink) OnMessage(clientID string, msg *protocol.Message) {
	s.logger.Debug("message", "client_id", clientID, "message", msg.String())
}

func (s *LogSink) OnError(clientID string, err error) {
	s.logger.Warn("client error", "client_id", clientID, "error", err)
}

// SinkFuncs adapts optional functions to EventSink. Nil fields are skipped.
type SinkFuncs struct {
	Connect    func(clientID string)
	Disconnect func(clientID string)
	Message    func(clientID string, msg *protocol.Message)
	Error      func(clientID string, err error)
}

func (f SinkFuncs) OnConnect(clientID string) {
	if f.Connect != nil {
		f.Connect(clientID)
	}
}

func (f SinkFuncs) OnDisconnect(clientID string) {
	if f.Disconnect != nil {
		f.Disconnect(clientID)
	}
}

func (f SinkFuncs) OnMessage(clientID string, msg *protocol.Message) {
	if f.Message != nil {
		f.Message(clientID, msg)
	}
}

func (f SinkFuncs) OnError(clientID string, err error) {
	if f.Error != nil {
		f.Error(clientID, err)
	}
}

// MultiSink fans every event out to each sink in order.
type MultiSink []EventSink

func (m MultiSink) OnConnect(clientID string) {
	for _, s := range m {
		s.OnConnect(clientID)
	}
}

func (m MultiSink) OnDisconnect(clientID string) {
	for _, s := range m {
		s.OnDisconnect(clientID)
	}
}

func (m MultiSink) OnMessage(clientID string, msg *protocol.Message) {
	for _, s := range m {
		s.OnMessage(clientID, msg)
	}
}

func (m MultiSink) OnError(clientID string, err error) {
	for _, s := range m {
		s.OnError(clientID, err)
	}
}
