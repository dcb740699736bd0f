// ABOUTME: Event names and JSON payloads exchanged with the chat server
// ABOUTME: Shared by the session engine and the fake backend so both speak the same dialect

package chat

// Outbound event names.
const (
	EventJoin           = "join"
	EventJoinShared     = "join-shared"
	EventMessage        = "message"
	EventSharedMessage  = "shared-message"
	EventTyping         = "typing"
	EventFinalize       = "finalize"
	EventFinalizeShared = "finalize-shared"
)

// Inbound event names. EventMessage and EventSharedMessage are also used
// inbound to deliver confirmed messages.
const (
	EventJoined             = "joined"
	EventStreamStart        = "stream-start"
	EventStreamChunk        = "stream-chunk"
	EventStreamEnd          = "stream-end"
	EventFinalized          = "finalized"
	EventError              = "error"
	EventUserRole           = "user-role"
	EventParticipantsUpdate = "participants-update"
	EventParticipantOnline  = "participant-online"
	EventParticipantOffline = "participant-offline"
	EventParticipantTyping  = "participant-typing"
)

// JoinPayload announces the client after every successful connect.
type JoinPayload struct {
	SessionID      string `json:"sessionId,omitempty"`
	RelationshipID string `json:"relationshipId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

// OutboundMessage is the body of message and shared-message emits.
type OutboundMessage struct {
	Content  string `json:"content"`
	ClientID string `json:"clientId,omitempty"`
}

// TypingPayload is the body of typing emits.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// FinalizePayload is the body of finalize and finalize-shared requests.
type FinalizePayload struct {
	SessionID      string `json:"sessionId,omitempty"`
	RelationshipID string `json:"relationshipId,omitempty"`
}

// SessionHistory is the session body of a joined event.
type SessionHistory struct {
	Messages []Message `json:"messages"`
	Status   string    `json:"status"`
}

// JoinedPayload is sent by the server once a join is accepted.
type JoinedPayload struct {
	SessionID      string         `json:"sessionId,omitempty"`
	RelationshipID string         `json:"relationshipId,omitempty"`
	Session        SessionHistory `json:"session"`
}

// ChunkPayload carries one streamed fragment.
type ChunkPayload struct {
	Content string `json:"content"`
}

// RolePayload assigns the local user's partner role.
type RolePayload struct {
	Role Role `json:"role"`
}

// ParticipantsPayload is a full roster snapshot.
type ParticipantsPayload struct {
	Participants []Participant `json:"participants"`
}

// ParticipantPayload patches a single participant.
type ParticipantPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorPayload is a server-reported error.
type ErrorPayload struct {
	Message string `json:"message"`
}
