package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/yrelay/pkg/document/memdoc"
	"github.com/vango-dev/yrelay/pkg/protocol"
	"github.com/vango-dev/yrelay/pkg/room"
)

// Server is the HTTP/WebSocket relay.
type Server struct {
	config *ServerConfig

	// Collaborators
	registry     *room.Registry
	conns        *ConnectionTable
	broadcaster  *Broadcaster
	orchestrator *Orchestrator
	sink         EventSink
	stats        *StatsCollector

	// HTTP
	router     chi.Router
	upgrader   websocket.Upgrader
	httpMu     sync.Mutex
	httpServer *http.Server

	// Lifecycle
	baseCtx      context.Context
	cancelBase   context.CancelFunc
	handlers     sync.WaitGroup
	shuttingDown atomic.Bool

	logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		// Fill in defaults for any unset fields
		defaults := DefaultServerConfig()
		if config.Address == "" {
			config.Address = defaults.Address
		}
		if config.ReadBufferSize == 0 {
			config.ReadBufferSize = defaults.ReadBufferSize
		}
		if config.WriteBufferSize == 0 {
			config.WriteBufferSize = defaults.WriteBufferSize
		}
		if config.CheckOrigin == nil {
			config.CheckOrigin = defaults.CheckOrigin
		}
		if config.ShutdownTimeout == 0 {
			config.ShutdownTimeout = defaults.ShutdownTimeout
		}
		if config.ReadHeaderTimeout == 0 {
			config.ReadHeaderTimeout = defaults.ReadHeaderTimeout
		}
	}
	config.SessionConfig = fillSessionDefaults(config.SessionConfig)

	base := config.Logger
	if base == nil {
		base = slog.Default()
	}
	logger := base.With("component", "server")

	if err := config.ValidateConfig(); err != nil {
		logger.Error("config validation failed", "error", err)
	}

	store := config.DocumentStore
	if store == nil {
		store = memdoc.NewStore(0)
	}
	sink := config.EventSink
	if sink == nil {
		sink = NewLogSink(base)
	}

	stats := NewStatsCollector()
	registry := room.NewRegistry(store, base)
	conns := NewConnectionTable()
	broadcaster := NewBroadcaster(registry, conns, stats, base)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:       config,
		registry:     registry,
		conns:        conns,
		broadcaster:  broadcaster,
		orchestrator: NewOrchestrator(registry, conns, broadcaster, stats, base),
		sink:         sink,
		stats:        stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			CheckOrigin:       config.CheckOrigin,
			EnableCompression: config.EnableCompression,
		},
		baseCtx:    ctx,
		cancelBase: cancel,
		logger:     logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws/{room}", s.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Get("/rooms", s.handleRooms)
	r.Get("/rooms/{room}", s.handleRoom)
	r.Get("/sessions", s.handleSessions)
	r.Get("/stats", s.handleStats)
	return r
}

// Use appends frame middleware to every connection's frame processing.
func (s *Server) Use(mws ...FrameMiddleware) {
	s.orchestrator.Use(mws...)
}

// Handle mounts an extra HTTP handler, for example a metrics endpoint.
// It must be called before serving.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.router.Handle(pattern, h)
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes. The connection joins the room named by the {room} URL parameter.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")
	if roomName == "" {
		roomName = r.URL.Query().Get("room")
	}
	if roomName == "" {
		http.Error(w, ErrMissingRoom.Error(), http.StatusBadRequest)
		return
	}
	if s.shuttingDown.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if limit := s.config.MaxConnections; limit > 0 && s.conns.Len() >= limit {
		s.logger.Warn("connection rejected", "error", ErrMaxConnectionsReached, "limit", limit)
		http.Error(w, ErrMaxConnectionsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s.handlers.Add(1)
	defer s.handlers.Done()

	sess := newSession(conn, roomName, s.config.SessionConfig, s.stats, s.logger)
	s.serveSession(sess)
}

// serveSession registers sess, joins its room, and runs its loops until the
// connection closes.
func (s *Server) serveSession(sess *Session) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	s.conns.Add(sess, sess.ID)
	s.stats.RecordConnect()
	go sess.WriteLoop()

	if err := s.orchestrator.Join(sess.ID, sess.Room); err != nil {
		s.reportError(sess.ID, err)
	}
	s.sink.OnConnect(sess.ID)

	// Close on shutdown even if the peer is idle.
	go func() {
		select {
		case <-ctx.Done():
			sess.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
		case <-sess.Done():
		}
	}()

	sess.ReadLoop(func(messageType int, data []byte) {
		if messageType != websocket.BinaryMessage {
			s.stats.RecordFrame(len(data))
			s.reportError(sess.ID, ErrTextFrame)
			return
		}
		msg, err := s.orchestrator.HandleFrame(ctx, sess.ID, data)
		if err != nil {
			s.reportError(sess.ID, err)
			return
		}
		s.sink.OnMessage(sess.ID, msg)
	})

	s.conns.Remove(sess)
	s.orchestrator.Leave(sess.ID)
	s.stats.RecordDisconnect()
	s.sink.OnDisconnect(sess.ID)
}

func (s *Server) reportError(clientID string, err error) {
	s.stats.RecordFrameError()
	s.sink.OnError(clientID, err)
}

// JoinRoom joins a connected client to roomName and starts the sync
// handshake. The client's previous room membership is left in place.
func (s *Server) JoinRoom(clientID, roomName string) error {
	if _, ok := s.conns.Conn(clientID); !ok {
		return NewRoutingError(clientID, "join_room", ErrUnknownClient)
	}
	return s.orchestrator.Join(clientID, roomName)
}

// SendMessage sends msg to one connected client.
func (s *Server) SendMessage(clientID string, msg *protocol.Message) error {
	c, ok := s.conns.Conn(clientID)
	if !ok {
		return NewRoutingError(clientID, "send", ErrUnknownClient)
	}
	if !c.IsOpen() {
		return NewRoutingError(clientID, "send", ErrSessionClosed)
	}
	if err := c.Send(msg.Encode()); err != nil {
		return NewRoutingError(clientID, "send", err)
	}
	return nil
}

// BroadcastToRoom sends msg to every member of roomName except
// excludeClientID, which may be empty. It returns the number of recipients.
func (s *Server) BroadcastToRoom(roomName string, msg *protocol.Message, excludeClientID string) int {
	return s.broadcaster.Broadcast(roomName, msg, excludeClientID)
}

// ConnectedClientIDs returns the ids of every connected client.
func (s *Server) ConnectedClientIDs() []string {
	return s.conns.IDs()
}

// ClientsInRoom returns the ids of roomName's members.
func (s *Server) ClientsInRoom(roomName string) []string {
	return s.registry.ClientsInRoom(roomName)
}

// SyncState returns the handshake state of clientID.
func (s *Server) SyncState(clientID string) SyncState {
	return s.orchestrator.State(clientID)
}

// Registry returns the room registry.
func (s *Server) Registry() *room.Registry {
	return s.registry
}

// Orchestrator returns the sync orchestrator.
func (s *Server) Orchestrator() *Orchestrator {
	return s.orchestrator
}

// Stats returns a snapshot of server activity.
func (s *Server) Stats() Stats {
	st := s.stats.Snapshot()
	st.ActiveConnections = s.conns.Len()
	st.Rooms = len(s.registry.Rooms())
	return st
}

// Sessions returns per-connection counters for every open connection,
// ordered by client id.
func (s *Server) Sessions() []SessionStats {
	ids := s.conns.IDs()
	out := make([]SessionStats, 0, len(ids))
	for _, id := range ids {
		c, ok := s.conns.Conn(id)
		if !ok {
			continue
		}
		if sess, ok := c.(*Session); ok {
			out = append(out, sess.Stats())
		}
	}
	return out
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := s.registry.Rooms()
	if rooms == nil {
		rooms = []room.Info{}
	}
	s.writeJSON(w, rooms)
}

// RoomMembers is the body of GET /rooms/{room}.
type RoomMembers struct {
	Name    string   `json:"name"`
	Clients []string `json:"clients"`
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "room")
	if !s.registry.Exists(name) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	clients := s.registry.ClientsInRoom(name)
	if clients == nil {
		clients = []string{}
	}
	s.writeJSON(w, RoomMembers{Name: name, Clients: clients})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.Sessions())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.Stats())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write json", "error", err)
	}
}

// Run starts the server and blocks until SIGINT/SIGTERM or a listen error,
// then shuts down gracefully.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Start(ctx)
}

// Start listens on the configured address and blocks until ctx is done or
// the listener fails. On ctx cancellation it shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.config.ValidateConfig(); err != nil {
		return err
	}

	hs := &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	s.httpMu.Lock()
	s.httpServer = hs
	s.httpMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting connections, closes every session, waits for
// their handlers to finish, and destroys all room documents.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shuttingDown.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.httpMu.Lock()
	hs := s.httpServer
	s.httpMu.Unlock()

	var shutdownErr error
	if hs != nil {
		if err := hs.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Hijacked connections are not tracked by http.Server.
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out waiting for connections",
			"remaining", s.conns.Len())
		if shutdownErr == nil {
			shutdownErr = ctx.Err()
		}
	}

	s.registry.Close()
	s.logger.Info("server shutdown complete")
	return shutdownErr
}
