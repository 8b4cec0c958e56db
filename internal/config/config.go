package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vango-dev/yrelay/pkg/server"
)

const (
	// ConfigName is the base name of the configuration file searched for
	// when no explicit path is given.
	ConfigName = "yrelay"

	// EnvPrefix prefixes environment overrides, e.g. YRELAY_SERVER_ADDRESS.
	EnvPrefix = "YRELAY"

	// AllowAllOrigins in server.allowed_origins disables the origin check.
	AllowAllOrigins = "*"
)

// Config is the complete relay configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`

	// file is the config file that was read, if any.
	file string
}

// ServerConfig holds listener and upgrade settings.
type ServerConfig struct {
	Address           string        `mapstructure:"address"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	EnableCompression bool          `mapstructure:"enable_compression"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	MaxConnections    int           `mapstructure:"max_connections"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// SessionConfig holds per-connection settings.
type SessionConfig struct {
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	SendQueueSize     int           `mapstructure:"send_queue_size"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// TracingConfig controls OpenTelemetry frame tracing.
type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	TracerName string `mapstructure:"tracer_name"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"address":         "server.address",
	"max-connections": "server.max_connections",
	"allowed-origins": "server.allowed_origins",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"metrics":         "metrics.enabled",
	"tracing":         "tracing.enabled",
}

// SetDefaults registers default values for every key. Keys without a
// default are invisible to environment overrides.
func SetDefaults(v *viper.Viper) {
	def := server.DefaultServerConfig()
	sess := server.DefaultSessionConfig()

	v.SetDefault("server.address", def.Address)
	v.SetDefault("server.read_buffer_size", def.ReadBufferSize)
	v.SetDefault("server.write_buffer_size", def.WriteBufferSize)
	v.SetDefault("server.enable_compression", def.EnableCompression)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.max_connections", def.MaxConnections)
	v.SetDefault("server.shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("server.read_header_timeout", def.ReadHeaderTimeout)

	v.SetDefault("session.read_timeout", sess.ReadTimeout)
	v.SetDefault("session.write_timeout", sess.WriteTimeout)
	v.SetDefault("session.heartbeat_interval", sess.HeartbeatInterval)
	v.SetDefault("session.max_message_size", sess.MaxMessageSize)
	v.SetDefault("session.send_queue_size", sess.SendQueueSize)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "yrelay")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.tracer_name", "yrelay")
}

// New returns the default configuration.
func New() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads the configuration. Sources, lowest precedence first: defaults,
// the config file, YRELAY_* environment variables, then flags that were set
// explicitly. An empty path searches for yrelay.yaml in the working
// directory and /etc/yrelay; a missing file is not an error in that case.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/yrelay")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{file: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// File returns the config file that was read, or "" when none was.
func (c *Config) File() string {
	return c.file
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format %q: want text or json", c.Log.Format)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("config: metrics.path %q must start with /", c.Metrics.Path)
	}
	if c.Server.ShutdownTimeout < 0 || c.Server.ReadHeaderTimeout < 0 {
		return errors.New("config: server timeouts must not be negative")
	}
	if c.Session.ReadTimeout <= 0 || c.Session.WriteTimeout <= 0 {
		return errors.New("config: session timeouts must be positive")
	}
	if err := c.ServerConfig().ValidateConfig(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ServerConfig maps the configuration onto a server configuration. The
// document store, event sink and logger are left for the caller.
func (c *Config) ServerConfig() *server.ServerConfig {
	cfg := server.DefaultServerConfig()
	cfg.Address = c.Server.Address
	cfg.ReadBufferSize = c.Server.ReadBufferSize
	cfg.WriteBufferSize = c.Server.WriteBufferSize
	cfg.EnableCompression = c.Server.EnableCompression
	cfg.MaxConnections = c.Server.MaxConnections
	cfg.ShutdownTimeout = c.Server.ShutdownTimeout
	cfg.ReadHeaderTimeout = c.Server.ReadHeaderTimeout
	cfg.CheckOrigin = originCheck(c.Server.AllowedOrigins)

	cfg.SessionConfig = &server.SessionConfig{
		ReadTimeout:       c.Session.ReadTimeout,
		WriteTimeout:      c.Session.WriteTimeout,
		HeartbeatInterval: c.Session.HeartbeatInterval,
		MaxMessageSize:    c.Session.MaxMessageSize,
		SendQueueSize:     c.Session.SendQueueSize,
	}
	return cfg
}

// Logger builds a slog logger writing to w.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), nil
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log.level %q: %w", s, err)
	}
	return level, nil
}

func originCheck(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return server.SameOriginCheck
	}
	for _, o := range origins {
		if o == AllowAllOrigins {
			return server.AllowAllOrigins
		}
	}
	return server.OriginAllowlist(origins...)
}
