// ABOUTME: In-memory Store implementation for tests and ephemeral backends
// ABOUTME: Allows sessions and the fake backend to run without SQLite

package store

import (
	"context"
	"sync"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu          sync.RWMutex
	backlogs    map[string][]chat.QueuedMessage // keyed by session key
	transcripts map[string][]chat.Message       // keyed by conversation key
	statuses    map[string]string               // keyed by conversation key
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		backlogs:    make(map[string][]chat.QueuedMessage),
		transcripts: make(map[string][]chat.Message),
		statuses:    make(map[string]string),
	}
}

// SaveBacklog replaces the backlog for sessionKey.
func (m *MemoryStore) SaveBacklog(ctx context.Context, sessionKey string, msgs []chat.QueuedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(msgs) == 0 {
		delete(m.backlogs, sessionKey)
		return nil
	}
	m.backlogs[sessionKey] = append([]chat.QueuedMessage(nil), msgs...)
	return nil
}

// LoadBacklog returns a copy of the backlog for sessionKey.
func (m *MemoryStore) LoadBacklog(ctx context.Context, sessionKey string) ([]chat.QueuedMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]chat.QueuedMessage(nil), m.backlogs[sessionKey]...), nil
}

// AppendMessage stores msg, replacing any message with the same ID.
func (m *MemoryStore) AppendMessage(ctx context.Context, conversationKey string, msg chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.transcripts[conversationKey]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = msg
			return nil
		}
	}
	m.transcripts[conversationKey] = append(msgs, msg)
	return nil
}

// ListMessages returns the most recent messages in chronological order.
func (m *MemoryStore) ListMessages(ctx context.Context, conversationKey string, limit int) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.transcripts[conversationKey]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chat.Message(nil), msgs...), nil
}

// SetStatus records the conversation status.
func (m *MemoryStore) SetStatus(ctx context.Context, conversationKey, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[conversationKey] = status
	return nil
}

// GetStatus returns the recorded status, defaulting to active.
func (m *MemoryStore) GetStatus(ctx context.Context, conversationKey string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.statuses[conversationKey]; ok {
		return s, nil
	}
	return chat.StatusActive, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
