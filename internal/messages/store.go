// ABOUTME: Ordered, deduplicated conversation log with optimistic reconciliation
// ABOUTME: Assembles streamed AI fragments into a single growing entry

package messages

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

// ErrStreamActive is returned by BeginStream when a stream is already open.
var ErrStreamActive = errors.New("stream already active")

// noStream marks the absence of an active streaming entry.
const noStream = -1

// Store is the canonical ordered message log for one conversation.
// All mutation goes through its methods so the single-streaming-entry
// invariant holds.
type Store struct {
	mu        sync.RWMutex
	entries   []chat.Message
	streamIdx int
	now       func() time.Time
	logger    *slog.Logger
}

// NewStore creates an empty store. Pass nil logger for default.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		streamIdx: noStream,
		now:       time.Now,
		logger:    logger.With("component", "messages"),
	}
}

// Seed replaces the log with server history, e.g. from a joined event.
// Only the final history entry may keep its streaming flag. Local entries
// still waiting for confirmation that the history does not already contain
// are kept after it.
func (s *Store) Seed(history []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var carried []chat.Message
	for _, e := range s.entries {
		if e.IsProvisional() && e.ClientID != "" && !confirmedIn(history, e) {
			carried = append(carried, e)
		}
	}

	s.entries = make([]chat.Message, 0, len(history)+len(carried))
	s.entries = append(s.entries, history...)
	s.streamIdx = noStream

	for i := range s.entries {
		if !s.entries[i].Streaming {
			continue
		}
		if i == len(history)-1 {
			s.streamIdx = i
			continue
		}
		s.entries[i].Streaming = false
	}
	s.entries = append(s.entries, carried...)
}

// confirmedIn reports whether history holds the confirmed copy of local.
func confirmedIn(history []chat.Message, local chat.Message) bool {
	for _, h := range history {
		if h.IsProvisional() {
			continue
		}
		if h.ClientID == local.ClientID {
			return true
		}
		if h.ClientID == "" && h.Role == local.Role && h.Content == local.Content {
			return true
		}
	}
	return false
}

// AppendOptimistic adds a locally created entry with a provisional ID and
// returns it.
func (s *Store) AppendOptimistic(role chat.Role, content, clientID string) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	msg := chat.Message{
		ID:        chat.NewProvisionalID(now),
		Role:      role,
		Content:   content,
		Timestamp: now,
		ClientID:  clientID,
	}
	s.entries = append(s.entries, msg)
	return msg
}

// AppendConfirmed reconciles a server-confirmed message into the log.
// An entry with the same server ID, or a provisional entry with the same
// client ID or the same role and exact content, is replaced in place.
// Otherwise the message is appended. Returns true when an entry was replaced.
func (s *Store) AppendConfirmed(msg chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Streaming = false

	if i := s.matchLocked(msg); i >= 0 {
		s.entries[i] = msg
		if i == s.streamIdx {
			s.streamIdx = noStream
		}
		return true
	}

	s.entries = append(s.entries, msg)
	return false
}

// matchLocked finds the entry a confirmed message supersedes. Must be called
// with mu held.
func (s *Store) matchLocked(msg chat.Message) int {
	if msg.ID != "" {
		for i := range s.entries {
			if s.entries[i].ID == msg.ID {
				return i
			}
		}
	}

	if msg.ClientID != "" {
		for i := range s.entries {
			e := &s.entries[i]
			if e.IsProvisional() && e.ClientID == msg.ClientID {
				return i
			}
		}
	}

	for i := range s.entries {
		e := &s.entries[i]
		if e.IsProvisional() && e.Role == msg.Role && e.Content == msg.Content {
			return i
		}
	}
	return -1
}

// BeginStream opens a new streaming AI entry. A second start while a stream
// is active is a protocol error; it is logged and ignored.
func (s *Store) BeginStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streamIdx != noStream {
		s.logger.Warn("stream-start while a stream is active, ignoring",
			"message_id", s.entries[s.streamIdx].ID)
		return ErrStreamActive
	}

	s.startStreamLocked()
	return nil
}

// AppendStreamChunk appends text to the active streaming entry. If no stream
// is active (a missed stream-start), one is synthesized first. Returns true
// when a placeholder had to be synthesized.
func (s *Store) AppendStreamChunk(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	synthesized := false
	if s.streamIdx == noStream {
		s.logger.Debug("stream-chunk without stream-start, synthesizing entry")
		s.startStreamLocked()
		synthesized = true
	}

	s.entries[s.streamIdx].Content += text
	return synthesized
}

// EndStream finalizes the active streaming entry. Returns false when there
// was nothing to finalize.
func (s *Store) EndStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streamIdx == noStream {
		return false
	}
	s.entries[s.streamIdx].Streaming = false
	s.streamIdx = noStream
	return true
}

// startStreamLocked appends a streaming placeholder. Must be called with mu held.
func (s *Store) startStreamLocked() {
	now := s.now()
	s.entries = append(s.entries, chat.Message{
		ID:        chat.NewProvisionalID(now),
		Role:      chat.RoleAI,
		Timestamp: now,
		Streaming: true,
	})
	s.streamIdx = len(s.entries) - 1
}

// IsStreaming reports whether an entry is currently receiving fragments.
func (s *Store) IsStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamIdx != noStream
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a copy of the log in append order.
func (s *Store) Snapshot() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Message, len(s.entries))
	copy(out, s.entries)
	return out
}
