// ABOUTME: Construction-time settings for a chat session
// ABOUTME: Local identity, admin allow-list and protocol timeouts

package session

import (
	"log/slog"
	"slices"
	"time"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/auth"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/metrics"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/queue"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/transport"
)

// Defaults for Config fields left zero.
const (
	DefaultAckTimeout      = queue.DefaultAckTimeout
	DefaultFinalizeTimeout = 5 * time.Second
	DefaultTypingInterval  = 2 * time.Second
	DefaultDedupeTTL       = 5 * time.Minute
)

const dedupeWindowKeys = 4096

// Config identifies the session and tunes its timeouts. Zero durations use
// the package defaults; reconnect and typing TTL defaults come from the
// reconnect and presence packages.
type Config struct {
	// URL is the backend socket endpoint (ws, wss, http or https).
	URL string

	// SessionID selects a single-party session.
	SessionID string
	// RelationshipID and UserID select a shared two-party session.
	RelationshipID string
	UserID         string

	// Admins lists user IDs with access to operator commands.
	Admins []string

	AckTimeout      time.Duration
	FinalizeTimeout time.Duration
	ConnectTimeout  time.Duration
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	TypingTTL       time.Duration
	// TypingInterval is the minimum gap between outbound "typing" signals.
	TypingInterval time.Duration
	// DedupeTTL is how long inbound message IDs are remembered.
	DedupeTTL time.Duration
}

// IsAdmin reports whether userID is on the admin allow-list.
func (c Config) IsAdmin(userID string) bool {
	return userID != "" && slices.Contains(c.Admins, userID)
}

func (c *Config) applyDefaults() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if c.TypingInterval <= 0 {
		c.TypingInterval = DefaultTypingInterval
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = DefaultDedupeTTL
	}
}

// Options carries collaborators. Tokens is required.
type Options struct {
	Tokens auth.TokenProvider
	// Dialer defaults to a WebSocket dialer.
	Dialer transport.Dialer
	// Backlog persists the outbound queue between runs. Optional.
	Backlog queue.Persister
	Metrics *metrics.Collectors
	Logger  *slog.Logger
}
