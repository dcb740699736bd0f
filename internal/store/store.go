// ABOUTME: Store interfaces for local and fake-backend persistence
// ABOUTME: Outbound backlog per session plus conversation transcripts and status

package store

import (
	"context"
	"errors"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// BacklogStore persists outbound queues keyed by session. The session key is
// whatever identifies the conversation locally, e.g. "single:<sessionId>".
type BacklogStore interface {
	SaveBacklog(ctx context.Context, sessionKey string, msgs []chat.QueuedMessage) error
	LoadBacklog(ctx context.Context, sessionKey string) ([]chat.QueuedMessage, error)
}

// TranscriptStore persists conversations on the backend side.
type TranscriptStore interface {
	// AppendMessage stores msg, replacing any message with the same ID.
	AppendMessage(ctx context.Context, conversationKey string, msg chat.Message) error
	// ListMessages returns up to limit of the most recent messages in
	// chronological order. A limit <= 0 returns all of them.
	ListMessages(ctx context.Context, conversationKey string, limit int) ([]chat.Message, error)
	// SetStatus records the conversation status (active or finalized).
	SetStatus(ctx context.Context, conversationKey, status string) error
	// GetStatus returns the recorded status, or chat.StatusActive if none.
	GetStatus(ctx context.Context, conversationKey string) (string, error)
}

// Store is implemented by SQLiteStore and MemoryStore.
type Store interface {
	BacklogStore
	TranscriptStore
	Close() error
}
