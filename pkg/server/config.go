package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-dev/yrelay/pkg/document"
)

// SessionConfig holds configuration for individual connections.
type SessionConfig struct {
	// Timeouts

	// ReadTimeout is the maximum time to wait for a frame or pong from the
	// client before the connection is considered dead.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between WebSocket ping frames.
	// Must be shorter than ReadTimeout.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 1MB.
	MaxMessageSize int64

	// SendQueueSize is the number of outbound frames buffered per connection.
	// A connection whose queue overflows is closed.
	// Default: 256.
	SendQueueSize int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    1 << 20, // 1MB
		SendQueueSize:     256,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":1234" or "localhost:1234").
	// Default: ":1234".
	Address string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// EnableCompression negotiates per-message deflate with clients.
	// Default: false.
	EnableCompression bool

	// CheckOrigin is called to validate the request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// SessionConfig is the configuration for individual connections.
	// Default: DefaultSessionConfig().
	SessionConfig *SessionConfig

	// Server lifecycle

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// Limits

	// MaxConnections is the maximum number of concurrent connections.
	// 0 means no limit.
	MaxConnections int

	// Collaborators

	// DocumentStore opens room documents.
	// Default: an in-memory memdoc store.
	DocumentStore document.Store

	// EventSink receives connect, disconnect, message, and error events.
	// Default: a LogSink on Logger.
	EventSink EventSink

	// Logger is the base logger.
	// Default: slog.Default().
	Logger *slog.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
// SECURITY: CheckOrigin enforces same-origin by default to prevent CSWSH.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":1234",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		SessionConfig:     DefaultSessionConfig(),
		ShutdownTimeout:   30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
// Requests without an Origin header (native clients, curl) are allowed.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}
	return originURL.Host == host
}

// AllowAllOrigins accepts every origin. Use only behind a trusted proxy or in
// development.
func AllowAllOrigins(*http.Request) bool {
	return true
}

// OriginAllowlist accepts same-origin requests and requests whose Origin
// matches one of origins exactly (scheme and host, e.g.
// "https://app.example.com").
func OriginAllowlist(origins ...string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		if _, ok := allowed[r.Header.Get("Origin")]; ok {
			return true
		}
		return SameOriginCheck(r)
	}
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.SessionConfig != nil {
		clone.SessionConfig = c.SessionConfig.Clone()
	}
	return &clone
}

// WithAddress sets the server address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithSessionConfig sets the session configuration and returns the config for chaining.
func (c *ServerConfig) WithSessionConfig(sc *SessionConfig) *ServerConfig {
	c.SessionConfig = sc
	return c
}

// WithDocumentStore sets the document store and returns the config for chaining.
func (c *ServerConfig) WithDocumentStore(store document.Store) *ServerConfig {
	c.DocumentStore = store
	return c
}

// WithEventSink sets the event sink and returns the config for chaining.
func (c *ServerConfig) WithEventSink(sink EventSink) *ServerConfig {
	c.EventSink = sink
	return c
}

// WithLogger sets the logger and returns the config for chaining.
func (c *ServerConfig) WithLogger(logger *slog.Logger) *ServerConfig {
	c.Logger = logger
	return c
}

// WithMaxConnections sets the connection limit and returns the config for chaining.
func (c *ServerConfig) WithMaxConnections(n int) *ServerConfig {
	c.MaxConnections = n
	return c
}

// ValidateConfig reports the first invalid setting.
func (c *ServerConfig) ValidateConfig() error {
	if c.Address == "" {
		return fmt.Errorf("server: config: address is empty")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("server: config: max connections %d is negative", c.MaxConnections)
	}
	sc := c.SessionConfig
	if sc == nil {
		return nil
	}
	if sc.SendQueueSize <= 0 {
		return fmt.Errorf("server: config: send queue size must be positive, got %d", sc.SendQueueSize)
	}
	if sc.MaxMessageSize <= 0 {
		return fmt.Errorf("server: config: max message size must be positive, got %d", sc.MaxMessageSize)
	}
	if sc.HeartbeatInterval > 0 && sc.ReadTimeout > 0 && sc.HeartbeatInterval >= sc.ReadTimeout {
		return fmt.Errorf("server: config: heartbeat interval %s must be shorter than read timeout %s",
			sc.HeartbeatInterval, sc.ReadTimeout)
	}
	return nil
}

// fillSessionDefaults replaces zero and negative values with defaults.
func fillSessionDefaults(sc *SessionConfig) *SessionConfig {
	defaults := DefaultSessionConfig()
	if sc == nil {
		return defaults
	}
	if sc.ReadTimeout <= 0 {
		sc.ReadTimeout = defaults.ReadTimeout
	}
	if sc.WriteTimeout <= 0 {
		sc.WriteTimeout = defaults.WriteTimeout
	}
	if sc.HeartbeatInterval <= 0 {
		sc.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if sc.MaxMessageSize <= 0 {
		sc.MaxMessageSize = defaults.MaxMessageSize
	}
	if sc.SendQueueSize <= 0 {
		sc.SendQueueSize = defaults.SendQueueSize
	}
	return sc
}
