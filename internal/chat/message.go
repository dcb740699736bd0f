// ABOUTME: Core conversation types shared by the session engine packages
// ABOUTME: Defines Message, Role, QueuedMessage and the provisional ID scheme

package chat

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser     Role = "user"
	RoleAI       Role = "ai"
	RolePartnerA Role = "partner-a"
	RolePartnerB Role = "partner-b"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAI, RolePartnerA, RolePartnerB:
		return true
	}
	return false
}

// IsPartner reports whether r is one of the two shared-session roles.
func (r Role) IsPartner() bool {
	return r == RolePartnerA || r == RolePartnerB
}

// ProvisionalPrefix marks identifiers assigned locally before the server
// has confirmed a message.
const ProvisionalPrefix = "temp-"

var provisionalSeq atomic.Uint64

// NewProvisionalID returns a locally unique "temp-<ts>" identifier.
// The sequence suffix keeps IDs distinct when two entries share a millisecond.
func NewProvisionalID(now time.Time) string {
	return fmt.Sprintf("%s%d-%d", ProvisionalPrefix, now.UnixMilli(), provisionalSeq.Add(1))
}

// IsProvisionalID reports whether id was assigned locally.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// Message is a single entry in a conversation log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Streaming bool      `json:"isStreaming,omitempty"`

	// ClientID is the idempotency key the client attached when sending.
	// Servers echo it on the confirmed copy.
	ClientID string `json:"clientId,omitempty"`

	// SenderID is the participant that authored the message in shared sessions.
	SenderID string `json:"senderId,omitempty"`
}

// IsProvisional reports whether the message has not been confirmed yet.
func (m Message) IsProvisional() bool {
	return IsProvisionalID(m.ID)
}

// QueuedMessage is an outbound message waiting for a server acknowledgment.
type QueuedMessage struct {
	Key        string    `json:"key"`
	Content    string    `json:"content"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempts   int       `json:"attempts"`
}
