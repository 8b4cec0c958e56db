package config

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Address != ":1234" {
		t.Errorf("Server.Address = %q, want :1234", cfg.Server.Address)
	}
	if cfg.Session.SendQueueSize != 256 {
		t.Errorf("Session.SendQueueSize = %d, want 256", cfg.Session.SendQueueSize)
	}
	if cfg.Session.ReadTimeout != 60*time.Second {
		t.Errorf("Session.ReadTimeout = %v, want 60s", cfg.Session.ReadTimeout)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want info/text", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
server:
  address: "127.0.0.1:9000"
  max_connections: 50
  allowed_origins:
    - https://app.example.com
session:
  read_timeout: 2m
  send_queue_size: 64
log:
  level: debug
  format: json
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.File() != path {
		t.Errorf("File() = %q, want %q", cfg.File(), path)
	}
	if cfg.Server.Address != "127.0.0.1:9000" || cfg.Server.MaxConnections != 50 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Session.ReadTimeout != 2*time.Minute {
		t.Errorf("Session.ReadTimeout = %v, want 2m", cfg.Session.ReadTimeout)
	}
	if cfg.Session.WriteTimeout != 10*time.Second {
		t.Errorf("Session.WriteTimeout = %v, want default 10s", cfg.Session.WriteTimeout)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("Load() with a missing explicit file succeeded")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "relay.yaml", "server:\n  address: \":9000\"\n")
	t.Setenv("YRELAY_SERVER_ADDRESS", ":9100")
	t.Setenv("YRELAY_SESSION_SEND_QUEUE_SIZE", "32")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":9100" {
		t.Errorf("Server.Address = %q, want env value :9100", cfg.Server.Address)
	}
	if cfg.Session.SendQueueSize != 32 {
		t.Errorf("Session.SendQueueSize = %d, want 32", cfg.Session.SendQueueSize)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("YRELAY_SERVER_ADDRESS", ":9100")
	path := writeFile(t, "relay.yaml", "log:\n  level: warn\n")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("address", ":1234", "")
	flags.String("log-level", "info", "")
	if err := flags.Parse([]string{"--address", ":9200"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":9200" {
		t.Errorf("Server.Address = %q, want flag value :9200", cfg.Server.Address)
	}
	// Unset flags do not shadow the file.
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want file value warn", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad_level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad_format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"metrics_path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
		{"negative_shutdown", func(c *Config) { c.Server.ShutdownTimeout = -time.Second }, "server timeouts"},
		{"zero_read_timeout", func(c *Config) { c.Session.ReadTimeout = 0 }, "session timeouts"},
		{"zero_queue", func(c *Config) { c.Session.SendQueueSize = 0 }, "send queue size"},
		{"empty_address", func(c *Config) { c.Server.Address = "" }, "address is empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestServerConfig(t *testing.T) {
	cfg := New()
	cfg.Server.Address = ":7000"
	cfg.Server.MaxConnections = 3
	cfg.Session.SendQueueSize = 16

	sc := cfg.ServerConfig()
	if sc.Address != ":7000" || sc.MaxConnections != 3 {
		t.Errorf("ServerConfig = %+v", sc)
	}
	if sc.SessionConfig.SendQueueSize != 16 {
		t.Errorf("SendQueueSize = %d, want 16", sc.SessionConfig.SendQueueSize)
	}
}

func TestServerConfig_Origins(t *testing.T) {
	cross := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/r", nil)
		r.Host = "relay.example.com"
		r.Header.Set("Origin", "https://app.example.com")
		return r
	}

	tests := []struct {
		name    string
		origins []string
		want    bool
	}{
		{"same_origin_default", nil, false},
		{"listed", []string{"https://app.example.com"}, true},
		{"wildcard", []string{"*"}, true},
		{"other", []string{"https://other.example.com"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			cfg.Server.AllowedOrigins = tc.origins
			if got := cfg.ServerConfig().CheckOrigin(cross()); got != tc.want {
				t.Errorf("CheckOrigin() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	cfg := New()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger, err := cfg.Logger(&buf)
	if err != nil {
		t.Fatalf("Logger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "room", "notes")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"room":"notes"`) {
		t.Errorf("json output = %s", out)
	}
}
