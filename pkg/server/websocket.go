package server

import (
	"time"

	"github.com/gorilla/websocket"
)

// ReadLoop reads frames until the connection fails or the peer closes it,
// passing each frame to onFrame in arrival order. It closes the session on
// return and blocks until then.
func (s *Session) ReadLoop(onFrame func(messageType int, data []byte)) {
	defer s.Close()

	s.conn.SetReadLimit(s.config.MaxMessageSize)
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		s.extendReadDeadline()
		return nil
	})

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) && s.IsOpen() {
				s.logger.Warn("read error", "error", err)
			}
			return
		}

		s.extendReadDeadline()
		s.touch()
		s.framesRecv.Add(1)
		s.bytesRecv.Add(uint64(len(data)))

		onFrame(mt, data)
	}
}

func (s *Session) extendReadDeadline() {
	if s.config.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
}

// WriteLoop drains the outbound queue and sends heartbeat pings until the
// session is closed. It owns all data writes and closes the underlying
// connection on return.
func (s *Session) WriteLoop() {
	var heartbeat <-chan time.Time
	if s.config.HeartbeatInterval > 0 {
		ticker := time.NewTicker(s.config.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}
	defer s.conn.Close()

	for {
		select {
		case data := <-s.send:
			if err := s.write(data); err != nil {
				s.logger.Debug("write error", "error", err)
				s.Close()
				return
			}

		case <-heartbeat:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping error", "error", err)
				s.Close()
				return
			}

		case <-s.done:
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(s.closeCode, s.closeReason),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

func (s *Session) write(data []byte) error {
	if s.config.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	s.bytesSent.Add(uint64(len(data)))
	s.stats.RecordSend(len(data))
	return nil
}
