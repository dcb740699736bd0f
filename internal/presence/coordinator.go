// ABOUTME: Participant roster and typing state for shared two-party sessions
// ABOUTME: Snapshot replaces membership, incremental events patch by user ID only

package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

// MaxParticipants is the roster size of a shared session.
const MaxParticipants = 2

// DefaultTypingTTL is how long a typing flag stays set without a refresh.
const DefaultTypingTTL = 6 * time.Second

type member struct {
	chat.Participant
	typingSince time.Time
}

// Coordinator tracks who is in a shared session, who is online and who is
// typing, plus the role the server assigned to the local user.
type Coordinator struct {
	mu           sync.Mutex
	members      []member
	selfRole     chat.Role
	roleAssigned bool

	typingTTL time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates an empty coordinator. A zero typingTTL uses DefaultTypingTTL.
func New(typingTTL time.Duration, logger *slog.Logger) *Coordinator {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		typingTTL: typingTTL,
		now:       time.Now,
		logger:    logger.With("component", "presence"),
	}
}

// TypingTTL returns how long typing flags last without a refresh.
func (c *Coordinator) TypingTTL() time.Duration {
	return c.typingTTL
}

// ReplaceAll installs a full roster. Everyone in it is online, since the
// server only lists joined sockets. Extra entries beyond MaxParticipants are
// dropped.
func (c *Coordinator) ReplaceAll(roster []chat.Participant) {
	if len(roster) > MaxParticipants {
		c.logger.Warn("roster larger than a shared session allows, truncating",
			"count", len(roster), "max", MaxParticipants)
		roster = roster[:MaxParticipants]
	}

	now := c.now()
	members := make([]member, 0, len(roster))
	for _, p := range roster {
		p.Online = true
		m := member{Participant: p}
		if p.Typing {
			m.typingSince = now
		}
		members = append(members, m)
	}

	c.mu.Lock()
	c.members = members
	c.mu.Unlock()
}

// SetOnline patches the online flag for userID. Going offline also clears
// typing. It reports whether userID is in the roster.
func (c *Coordinator) SetOnline(userID string, online bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.findLocked(userID)
	if m == nil {
		c.logger.Debug("ignoring presence for unknown participant", "user_id", userID)
		return false
	}
	m.Online = online
	if !online {
		m.Typing = false
	}
	return true
}

// SetTyping patches the typing flag for userID. It reports whether userID is
// in the roster.
func (c *Coordinator) SetTyping(userID string, typing bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.findLocked(userID)
	if m == nil {
		c.logger.Debug("ignoring typing for unknown participant", "user_id", userID)
		return false
	}
	m.Typing = typing
	if typing {
		m.typingSince = c.now()
	}
	return true
}

// AssignRole records the local user's role. Only the first assignment on a
// connection is accepted; it reports whether this one was.
func (c *Coordinator) AssignRole(role chat.Role) bool {
	if !role.IsPartner() {
		c.logger.Warn("ignoring invalid role assignment", "role", role)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roleAssigned {
		if role != c.selfRole {
			c.logger.Warn("role already assigned for this connection",
				"role", c.selfRole, "ignored", role)
		}
		return false
	}
	c.selfRole = role
	c.roleAssigned = true
	return true
}

// ResetConnection forgets the per-connection role and clears typing flags.
// Call it when the socket drops.
func (c *Coordinator) ResetConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfRole = ""
	c.roleAssigned = false
	for i := range c.members {
		c.members[i].Typing = false
	}
}

// SelfRole returns the role assigned on the current connection, or "".
func (c *Coordinator) SelfRole() chat.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfRole
}

// Snapshot returns a copy of the roster. Typing flags older than the TTL
// read as false.
func (c *Coordinator) Snapshot() []chat.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]chat.Participant, 0, len(c.members))
	for i := range c.members {
		m := &c.members[i]
		if m.Typing && now.Sub(m.typingSince) >= c.typingTTL {
			m.Typing = false
		}
		out = append(out, m.Participant)
	}
	return out
}

// Len returns the roster size.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

func (c *Coordinator) findLocked(userID string) *member {
	for i := range c.members {
		if c.members[i].ID == userID {
			return &c.members[i]
		}
	}
	return nil
}
