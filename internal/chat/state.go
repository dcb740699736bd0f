// ABOUTME: Connection lifecycle and participant presence types
// ABOUTME: Shared by the reconnect controller, presence coordinator and session facade

package chat

// ConnectionState is the lifecycle state of the session socket.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// String returns the wire/log form of the state.
func (s ConnectionState) String() string {
	if s == "" {
		return string(StateDisconnected)
	}
	return string(s)
}

// Participant is the presence status of one member of a shared session.
type Participant struct {
	ID          string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Online      bool   `json:"isOnline"`
	Typing      bool   `json:"isTyping"`
}

// SessionStatus values reported by the server in the joined payload.
const (
	StatusActive    = "active"
	StatusFinalized = "finalized"
)
