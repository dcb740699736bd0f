// ABOUTME: In-memory fan-out of session events to subscribers
// ABOUTME: Non-blocking publish, per-subscriber buffers, context-scoped subscriptions

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// EventType discriminates Event.
type EventType string

const (
	EventState       EventType = "state"
	EventHistory     EventType = "history"
	EventMessage     EventType = "message"
	EventStreamStart EventType = "stream-start"
	EventStreamChunk EventType = "stream-chunk"
	EventStreamEnd   EventType = "stream-end"
	EventPresence    EventType = "presence"
	EventRole        EventType = "role"
	EventQueue       EventType = "queue"
	EventFinalized   EventType = "finalized"
	EventError       EventType = "error"
)

// Event is a change notification. Only the fields relevant to Type are set.
type Event struct {
	Type EventType

	State        chat.ConnectionState
	Message      chat.Message
	Messages     []chat.Message
	Chunk        string
	Participants []chat.Participant
	Role         chat.Role
	Pending      int
	Err          error
}

// Broadcaster delivers events to every subscriber. Slow subscribers miss
// events rather than stall the publisher; State() is always authoritative.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its channel and ID. The
// subscription is removed when ctx is cancelled. Subscribing to a closed
// broadcaster returns an already closed channel.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.NewString()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends ev to all subscribers without blocking. Sends happen under
// the read lock so a concurrent Unsubscribe cannot close a channel mid-send.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"sub_id", id, "event", ev.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}

	b.logger.Debug("broadcaster closed")
}
