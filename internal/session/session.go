// ABOUTME: Single-party and shared two-party session facades
// ABOUTME: Each picks its join, send and finalize events over the common engine

package session

import (
	"context"
	"errors"
	"net/url"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

// Session is a one-user conversation with the AI, keyed by session ID.
type Session struct {
	*engine
}

// New creates a single-party session. Nothing is dialed until Connect.
// A persisted backlog in opts.Backlog is loaded here.
func New(ctx context.Context, cfg Config, opts Options) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("session: SessionID is required")
	}
	sessionID := cfg.SessionID
	e, err := newEngine(ctx, cfg, opts, protocol{
		mode:          "single",
		joinEvent:     chat.EventJoin,
		join:          chat.JoinPayload{SessionID: sessionID},
		sendEvent:     chat.EventMessage,
		finalizeEvent: chat.EventFinalize,
		finalize:      chat.FinalizePayload{SessionID: sessionID},
		query: func(token string) url.Values {
			return url.Values{"sessionId": {sessionID}, "token": {token}}
		},
	})
	if err != nil {
		return nil, err
	}
	return &Session{engine: e}, nil
}

// SharedSession is a two-partner conversation keyed by relationship ID. It
// adds a participant roster, typing indicators and a per-connection role.
type SharedSession struct {
	*engine
}

// NewShared creates a shared session for cfg.UserID in cfg.RelationshipID.
func NewShared(ctx context.Context, cfg Config, opts Options) (*SharedSession, error) {
	if cfg.RelationshipID == "" || cfg.UserID == "" {
		return nil, errors.New("session: RelationshipID and UserID are required")
	}
	relID, userID := cfg.RelationshipID, cfg.UserID
	e, err := newEngine(ctx, cfg, opts, protocol{
		mode:          "shared",
		shared:        true,
		joinEvent:     chat.EventJoinShared,
		join:          chat.JoinPayload{RelationshipID: relID, UserID: userID},
		sendEvent:     chat.EventSharedMessage,
		finalizeEvent: chat.EventFinalizeShared,
		finalize:      chat.FinalizePayload{RelationshipID: relID},
		query: func(string) url.Values {
			return url.Values{"relationshipId": {relID}, "userId": {userID}}
		},
	})
	if err != nil {
		return nil, err
	}
	return &SharedSession{engine: e}, nil
}

// Participants returns the current roster.
func (s *SharedSession) Participants() []chat.Participant {
	return s.presence.Snapshot()
}

// SelfRole returns the role assigned on the current connection, or "".
func (s *SharedSession) SelfRole() chat.Role {
	return s.presence.SelfRole()
}
