// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, overrides, durations and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  url: "wss://chat.example.com/socket"

session:
  mode: "shared"
  relationship_id: "rel-42"
  user_id: "user-a"

auth:
  token_endpoint: "https://auth.example.com/token"
  refresh_skew: "1m"

timeouts:
  ack: "3s"
  finalize: "4s"
  connect: "15s"
  reconnect_initial: "500ms"
  reconnect_max: "20s"
  typing_ttl: "8s"
  typing_interval: "1s"

database:
  path: "/tmp/couples.db"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  addr: "127.0.0.1:9100"

admins:
  - "ops-1"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.URL != "wss://chat.example.com/socket" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Session.Mode != ModeShared {
		t.Errorf("Session.Mode = %q, want %q", cfg.Session.Mode, ModeShared)
	}
	if cfg.Auth.RefreshSkew != time.Minute {
		t.Errorf("Auth.RefreshSkew = %v, want 1m", cfg.Auth.RefreshSkew)
	}
	if cfg.Timeouts.Ack != 3*time.Second {
		t.Errorf("Timeouts.Ack = %v, want 3s", cfg.Timeouts.Ack)
	}
	if cfg.Timeouts.ReconnectInitial != 500*time.Millisecond {
		t.Errorf("Timeouts.ReconnectInitial = %v, want 500ms", cfg.Timeouts.ReconnectInitial)
	}
	if cfg.Timeouts.TypingTTL != 8*time.Second {
		t.Errorf("Timeouts.TypingTTL = %v, want 8s", cfg.Timeouts.TypingTTL)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want default", cfg.Metrics.Path)
	}
	if len(cfg.Admins) != 1 || cfg.Admins[0] != "ops-1" {
		t.Errorf("Admins = %v", cfg.Admins)
	}

	sc := cfg.SessionConfig()
	if sc.RelationshipID != "rel-42" || sc.SessionID != "" {
		t.Errorf("SessionConfig ids = %q/%q", sc.RelationshipID, sc.SessionID)
	}
	if sc.MaxDelay != 20*time.Second || sc.FinalizeTimeout != 4*time.Second {
		t.Errorf("SessionConfig timeouts = %v/%v", sc.MaxDelay, sc.FinalizeTimeout)
	}
	if !sc.IsAdmin("ops-1") {
		t.Error("admin list not carried into session config")
	}
	if got := cfg.BacklogKey(); got != "shared:rel-42:user-a" {
		t.Errorf("BacklogKey() = %q", got)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
url = "ws://localhost:8080/socket"

[session]
session_id = "s-1"

[timeouts]
ack = "2s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Mode != ModeSingle {
		t.Errorf("Session.Mode = %q, want %q", cfg.Session.Mode, ModeSingle)
	}
	if cfg.Timeouts.Ack != 2*time.Second {
		t.Errorf("Timeouts.Ack = %v, want 2s", cfg.Timeouts.Ack)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("logging defaults = %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
	if got := cfg.BacklogKey(); got != "single:s-1" {
		t.Errorf("BacklogKey() = %q", got)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CHAT_TOKEN", "secret-token")
	path := writeConfig(t, "config.yaml", `
server:
  url: "ws://localhost/socket"
session:
  session_id: "s-1"
auth:
  token: "${TEST_CHAT_TOKEN}"
  token_file: "${TEST_CHAT_UNSET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Token != "secret-token" {
		t.Errorf("Auth.Token = %q, want expanded value", cfg.Auth.Token)
	}
	if cfg.Auth.TokenFile != "" {
		t.Errorf("Auth.TokenFile = %q, want empty for unset var", cfg.Auth.TokenFile)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COUPLES_SERVER_URL", "wss://override.example.com/socket")
	t.Setenv("COUPLES_SESSION_ID", "from-env")
	t.Setenv("COUPLES_METRICS_ADDR", ":9200")
	path := writeConfig(t, "config.yaml", `
server:
  url: "ws://localhost/socket"
session:
  session_id: "from-file"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.URL != "wss://override.example.com/socket" {
		t.Errorf("Server.URL = %q, want env override", cfg.Server.URL)
	}
	if cfg.Session.SessionID != "from-env" {
		t.Errorf("Session.SessionID = %q, want env override", cfg.Session.SessionID)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics = %+v, want enabled on :9200", cfg.Metrics)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("COUPLES_SERVER_URL", "ws://localhost/socket")
	t.Setenv("COUPLES_RELATIONSHIP_ID", "rel-1")
	t.Setenv("COUPLES_USER_ID", "u1")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Session.Mode != ModeShared {
		t.Errorf("Session.Mode = %q, want shared inferred from relationship id", cfg.Session.Mode)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  url: "ws://localhost/socket"
session:
  session_id: "s-1"
timeouts:
  ack: "soon"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "timeouts.ack") {
		t.Errorf("error = %v, want mention of timeouts.ack", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:  ServerConfig{URL: "ws://localhost/socket"},
			Session: SessionConfig{Mode: ModeSingle, SessionID: "s-1"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing url", func(c *Config) { c.Server.URL = "" }, "server.url"},
		{"single without session id", func(c *Config) { c.Session.SessionID = "" }, "session_id"},
		{"shared without user", func(c *Config) {
			c.Session.Mode = ModeShared
			c.Session.RelationshipID = "rel"
		}, "user_id"},
		{"unknown mode", func(c *Config) { c.Session.Mode = "group" }, "session.mode"},
		{"backoff inverted", func(c *Config) {
			c.Timeouts.ReconnectInitial = time.Minute
			c.Timeouts.ReconnectMax = time.Second
		}, "reconnect_initial"},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true }, "metrics.addr"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("COUPLES_CONFIG", "/etc/couples.yaml")
	if got := DefaultPath(); got != "/etc/couples.yaml" {
		t.Errorf("DefaultPath() = %q, want env path", got)
	}

	t.Setenv("COUPLES_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "couples-chat", "config.yaml") {
		t.Errorf("DefaultPath() = %q, want XDG path", got)
	}
}
