// ABOUTME: Configuration loading for the couples-chat client
// ABOUTME: YAML or TOML files with ${VAR} expansion, duration parsing, env overrides and validation

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/session"
)

// EnvPrefix prefixes every environment override, e.g. COUPLES_SERVER_URL.
const EnvPrefix = "COUPLES"

// Session modes
const (
	ModeSingle = "single"
	ModeShared = "shared"
)

// Defaults applied when a field is left empty.
const (
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultMetricsPath = "/metrics"
	DefaultRefreshSkew = 30 * time.Second
)

// Config represents the complete client configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Timeouts TimeoutsConfig `yaml:"timeouts" toml:"timeouts"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	// Admins lists user IDs allowed to use operator commands.
	Admins []string `yaml:"admins" toml:"admins"`
}

// ServerConfig holds the backend endpoint
type ServerConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// SessionConfig selects the conversation to join
type SessionConfig struct {
	Mode           string `yaml:"mode" toml:"mode"`
	SessionID      string `yaml:"session_id" toml:"session_id"`
	RelationshipID string `yaml:"relationship_id" toml:"relationship_id"`
	UserID         string `yaml:"user_id" toml:"user_id"`
}

// AuthConfig holds token sources. The first non-empty of Token, TokenFile
// and TokenEndpoint is used.
type AuthConfig struct {
	Token         string `yaml:"token" toml:"token"`
	TokenFile     string `yaml:"token_file" toml:"token_file"`
	TokenEndpoint string `yaml:"token_endpoint" toml:"token_endpoint"`

	// Raw string from config file, parsed into RefreshSkew
	RefreshSkewRaw string        `yaml:"refresh_skew" toml:"refresh_skew"`
	RefreshSkew    time.Duration `yaml:"-" toml:"-"`
}

// TimeoutsConfig holds protocol timing. Zero values fall back to the session
// package defaults.
type TimeoutsConfig struct {
	// Raw strings from config file
	AckRaw              string `yaml:"ack" toml:"ack"`
	FinalizeRaw         string `yaml:"finalize" toml:"finalize"`
	ConnectRaw          string `yaml:"connect" toml:"connect"`
	ReconnectInitialRaw string `yaml:"reconnect_initial" toml:"reconnect_initial"`
	ReconnectMaxRaw     string `yaml:"reconnect_max" toml:"reconnect_max"`
	TypingTTLRaw        string `yaml:"typing_ttl" toml:"typing_ttl"`
	TypingIntervalRaw   string `yaml:"typing_interval" toml:"typing_interval"`

	// Parsed durations
	Ack              time.Duration `yaml:"-" toml:"-"`
	Finalize         time.Duration `yaml:"-" toml:"-"`
	Connect          time.Duration `yaml:"-" toml:"-"`
	ReconnectInitial time.Duration `yaml:"-" toml:"-"`
	ReconnectMax     time.Duration `yaml:"-" toml:"-"`
	TypingTTL        time.Duration `yaml:"-" toml:"-"`
	TypingInterval   time.Duration `yaml:"-" toml:"-"`
}

// DatabaseConfig holds the outbound backlog database. An empty path keeps
// the backlog in memory only.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds the optional Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// envOverrides are read from COUPLES_* variables and win over the file.
type envOverrides struct {
	ServerURL      string `envconfig:"SERVER_URL"`
	Mode           string `envconfig:"MODE"`
	SessionID      string `envconfig:"SESSION_ID"`
	RelationshipID string `envconfig:"RELATIONSHIP_ID"`
	UserID         string `envconfig:"USER_ID"`
	Token          string `envconfig:"TOKEN"`
	TokenEndpoint  string `envconfig:"TOKEN_ENDPOINT"`
	DatabasePath   string `envconfig:"DATABASE_PATH"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	MetricsAddr    string `envconfig:"METRICS_ADDR"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// DefaultPath returns the config file location.
// Priority: COUPLES_CONFIG env var > XDG_CONFIG_HOME/couples-chat/config.yaml > ~/.config/couples-chat/config.yaml
func DefaultPath() string {
	if envPath := os.Getenv(EnvPrefix + "_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "couples-chat", "config.yaml")
}

// Load reads a configuration file and returns the parsed, validated Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before
// parsing, and COUPLES_* overrides are applied after.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a Config from COUPLES_* variables alone.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Server.URL, env.ServerURL)
	set(&c.Session.Mode, env.Mode)
	set(&c.Session.SessionID, env.SessionID)
	set(&c.Session.RelationshipID, env.RelationshipID)
	set(&c.Session.UserID, env.UserID)
	set(&c.Auth.Token, env.Token)
	set(&c.Auth.TokenEndpoint, env.TokenEndpoint)
	set(&c.Database.Path, env.DatabasePath)
	set(&c.Logging.Level, env.LogLevel)
	if env.MetricsAddr != "" {
		c.Metrics.Addr = env.MetricsAddr
		c.Metrics.Enabled = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Session.Mode == "" {
		c.Session.Mode = ModeSingle
		if c.Session.SessionID == "" && c.Session.RelationshipID != "" {
			c.Session.Mode = ModeShared
		}
	}
	if c.Auth.RefreshSkew == 0 {
		c.Auth.RefreshSkew = DefaultRefreshSkew
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return errors.New("server.url is required")
	}

	switch c.Session.Mode {
	case ModeSingle:
		if c.Session.SessionID == "" {
			return errors.New("session.session_id is required in single mode")
		}
	case ModeShared:
		if c.Session.RelationshipID == "" || c.Session.UserID == "" {
			return errors.New("session.relationship_id and session.user_id are required in shared mode")
		}
	default:
		return fmt.Errorf("session.mode must be %q or %q, got %q", ModeSingle, ModeShared, c.Session.Mode)
	}

	if c.Timeouts.ReconnectInitial > 0 && c.Timeouts.ReconnectMax > 0 &&
		c.Timeouts.ReconnectInitial > c.Timeouts.ReconnectMax {
		return errors.New("timeouts.reconnect_initial must not exceed timeouts.reconnect_max")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.refresh_skew", cfg.Auth.RefreshSkewRaw, &cfg.Auth.RefreshSkew},
		{"timeouts.ack", cfg.Timeouts.AckRaw, &cfg.Timeouts.Ack},
		{"timeouts.finalize", cfg.Timeouts.FinalizeRaw, &cfg.Timeouts.Finalize},
		{"timeouts.connect", cfg.Timeouts.ConnectRaw, &cfg.Timeouts.Connect},
		{"timeouts.reconnect_initial", cfg.Timeouts.ReconnectInitialRaw, &cfg.Timeouts.ReconnectInitial},
		{"timeouts.reconnect_max", cfg.Timeouts.ReconnectMaxRaw, &cfg.Timeouts.ReconnectMax},
		{"timeouts.typing_ttl", cfg.Timeouts.TypingTTLRaw, &cfg.Timeouts.TypingTTL},
		{"timeouts.typing_interval", cfg.Timeouts.TypingIntervalRaw, &cfg.Timeouts.TypingInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}

// SessionConfig converts the file settings into a session.Config.
func (c *Config) SessionConfig() session.Config {
	cfg := session.Config{
		URL:             c.Server.URL,
		UserID:          c.Session.UserID,
		Admins:          c.Admins,
		AckTimeout:      c.Timeouts.Ack,
		FinalizeTimeout: c.Timeouts.Finalize,
		ConnectTimeout:  c.Timeouts.Connect,
		InitialDelay:    c.Timeouts.ReconnectInitial,
		MaxDelay:        c.Timeouts.ReconnectMax,
		TypingTTL:       c.Timeouts.TypingTTL,
		TypingInterval:  c.Timeouts.TypingInterval,
	}
	if c.Session.Mode == ModeShared {
		cfg.RelationshipID = c.Session.RelationshipID
	} else {
		cfg.SessionID = c.Session.SessionID
	}
	return cfg
}

// BacklogKey identifies this conversation's outbound backlog in the local
// database.
func (c *Config) BacklogKey() string {
	if c.Session.Mode == ModeShared {
		return "shared:" + c.Session.RelationshipID + ":" + c.Session.UserID
	}
	return "single:" + c.Session.SessionID
}
