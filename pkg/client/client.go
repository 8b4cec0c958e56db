// Package client connects a local document to a relay room.
//
// On connect the client sends its state vector as SYNC_REQUEST. It answers
// the server's SYNC_REQUEST with whatever the server is missing and applies
// every SYNC_RESPONSE and UPDATE it receives. The first successfully applied
// update marks the initial sync as complete.
//
//	doc := memdoc.New(42)
//	c, err := client.Dial(ctx, "ws://localhost:1234", "notes", doc)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	if err := c.WaitForSync(ctx); err != nil {
//	    return err
//	}
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/yrelay/pkg/document"
	"github.com/vango-dev/yrelay/pkg/protocol"
)

// Sentinel errors.
var (
	// ErrClosed is returned for operations on a closed client.
	ErrClosed = errors.New("client: closed")

	// ErrTextFrame is reported when the server sends a text frame.
	ErrTextFrame = errors.New("client: text frames not supported")

	// ErrApply is matched by update application failures.
	ErrApply = errors.New("client: update rejected")
)

// Handler receives client events. Methods are called from the client's read
// goroutine and must not call Close synchronously.
type Handler interface {
	OnConnect()
	OnDisconnect()
	OnMessage(msg *protocol.Message)
	OnError(err error)
}

// HandlerFuncs adapts optional functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Connect    func()
	Disconnect func()
	Message    func(msg *protocol.Message)
	Error      func(err error)
}

func (f HandlerFuncs) OnConnect() {
	if f.Connect != nil {
		f.Connect()
	}
}

func (f HandlerFuncs) OnDisconnect() {
	if f.Disconnect != nil {
		f.Disconnect()
	}
}

func (f HandlerFuncs) OnMessage(msg *protocol.Message) {
	if f.Message != nil {
		f.Message(msg)
	}
}

func (f HandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Config configures a client.
type Config struct {
	// Dialer opens the WebSocket connection.
	// Default: websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the upgrade request.
	Header http.Header

	// WriteTimeout bounds each frame write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// Handler receives events.
	// Default: events are logged.
	Handler Handler

	// Logger is the base logger.
	// Default: slog.Default().
	Logger *slog.Logger
}

// Option configures a client.
type Option func(*Config)

// WithDialer sets the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Config) {
		c.Dialer = d
	}
}

// WithHeader sets the upgrade request headers.
func WithHeader(h http.Header) Option {
	return func(c *Config) {
		c.Header = h
	}
}

// WithWriteTimeout sets the per-frame write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithHandler sets the event handler.
func WithHandler(h Handler) Option {
	return func(c *Config) {
		c.Handler = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func defaultConfig() Config {
	return Config{
		Dialer:       websocket.DefaultDialer,
		WriteTimeout: 10 * time.Second,
		Logger:       slog.Default(),
	}
}

// Client synchronizes one document with one room.
type Client struct {
	room   string
	doc    document.Doc
	conn   *websocket.Conn
	config Config

	writeMu sync.Mutex

	synced   chan struct{}
	syncOnce sync.Once

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	handler Handler
	logger  *slog.Logger
}

// RoomURL returns the WebSocket URL of roomName on serverURL.
func RoomURL(serverURL, roomName string) (string, error) {
	return url.JoinPath(serverURL, "ws", url.PathEscape(roomName))
}

// Dial connects doc to roomName on the relay at serverURL (for example
// "ws://localhost:1234") and starts the initial sync.
func Dial(ctx context.Context, serverURL, roomName string, doc document.Doc, opts ...Option) (*Client, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	target, err := RoomURL(serverURL, roomName)
	if err != nil {
		return nil, fmt.Errorf("client: room url: %w", err)
	}
	conn, _, err := config.Dialer.DialContext(ctx, target, config.Header)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", target, err)
	}

	logger := config.Logger.With("component", "client", "room", roomName)
	handler := config.Handler
	if handler == nil {
		handler = logHandler{logger: logger}
	}

	c := &Client{
		room:    roomName,
		doc:     doc,
		conn:    conn,
		config:  config,
		synced:  make(chan struct{}),
		done:    make(chan struct{}),
		handler: handler,
		logger:  logger,
	}

	sv, err := stateVector(doc)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("client: state vector: %w", err)
	}
	if err := c.Send(protocol.NewSyncRequest(sv)); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.handler.OnConnect()
	go c.readLoop()
	return c, nil
}

// Room returns the room name.
func (c *Client) Room() string {
	return c.room
}

// Document returns the synchronized document.
func (c *Client) Document() document.Doc {
	return c.doc
}

// Synced returns a channel closed once the first update has been applied.
func (c *Client) Synced() <-chan struct{} {
	return c.synced
}

// WaitForSync blocks until the initial sync completes, ctx is done, or the
// connection closes.
func (c *Client) WaitForSync(ctx context.Context) error {
	select {
	case <-c.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case <-c.synced:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Done returns a channel closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// SendUpdate sends a local update to the room.
func (c *Client) SendUpdate(update []byte) error {
	return c.Send(protocol.NewUpdate(update))
}

// SendAwareness sends an awareness blob to the room.
func (c *Client) SendAwareness(blob []byte) error {
	return c.Send(protocol.NewAwareness(blob))
}

// Send writes msg to the server.
func (c *Client) Send(msg *protocol.Message) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, msg.Encode()); err != nil {
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer func() {
		c.closed.Store(true)
		_ = c.conn.Close()
		c.handler.OnDisconnect()
		close(c.done)
	}()

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.handler.OnError(err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			c.handler.OnError(ErrTextFrame)
			continue
		}

		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			c.handler.OnError(err)
			continue
		}
		if err := c.process(msg); err != nil {
			c.handler.OnError(err)
		}
		c.handler.OnMessage(msg)
	}
}

func (c *Client) process(msg *protocol.Message) error {
	if msg.Type != protocol.MessageSync {
		// Awareness is left to the handler.
		return nil
	}
	sm, err := protocol.DecodeSync(msg.Payload)
	if err != nil {
		return err
	}

	switch sm.Type {
	case protocol.SyncRequest:
		diff, err := stateDiff(c.doc, sm.Data)
		if err != nil {
			return fmt.Errorf("client: state diff: %w", err)
		}
		if len(diff) > 0 {
			return c.Send(protocol.NewSyncResponse(diff))
		}

	case protocol.SyncResponse, protocol.SyncUpdate:
		if err := applyUpdate(c.doc, sm.Data); err != nil {
			return err
		}
		c.syncOnce.Do(func() { close(c.synced) })
	}
	return nil
}

func stateVector(doc document.Doc) ([]byte, error) {
	txn := doc.BeginRead()
	defer txn.Release()
	return txn.StateVector()
}

func stateDiff(doc document.Doc, sv []byte) ([]byte, error) {
	txn := doc.BeginRead()
	defer txn.Release()
	return txn.Diff(sv)
}

func applyUpdate(doc document.Doc, update []byte) error {
	txn := doc.BeginWrite()
	if code := txn.Apply(update); code != document.ApplyOK {
		txn.Abort()
		return fmt.Errorf("%w: result %d", ErrApply, code)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrApply, err)
	}
	return nil
}

type logHandler struct {
	logger *slog.Logger
}

func (h logHandler) OnConnect()    { h.logger.Info("connected") }
func (h logHandler) OnDisconnect() { h.logger.Info("disconnected") }
func (h logHandler) OnMessage(msg *protocol.Message) {
	h.logger.Debug("message", "message", msg.String())
}
func (h logHandler) OnError(err error) { h.logger.Warn("client error", "error", err) }
