// ABOUTME: Adapter binding one session's outbound queue to a BacklogStore
// ABOUTME: Satisfies queue.Persister so queued messages survive restarts

package store

import (
	"context"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

// Backlog is the persisted outbound queue of a single session.
type Backlog struct {
	store      BacklogStore
	sessionKey string
}

// NewBacklog binds sessionKey to s.
func NewBacklog(s BacklogStore, sessionKey string) *Backlog {
	return &Backlog{store: s, sessionKey: sessionKey}
}

func (b *Backlog) Load(ctx context.Context) ([]chat.QueuedMessage, error) {
	return b.store.LoadBacklog(ctx, b.sessionKey)
}

func (b *Backlog) Save(ctx context.Context, msgs []chat.QueuedMessage) error {
	return b.store.SaveBacklog(ctx, b.sessionKey, msgs)
}
