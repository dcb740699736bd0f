// ABOUTME: Inbound event dispatch for the session engine
// ABOUTME: Runs on the socket read goroutine, in wire order, one event at a time

package session

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/transport"
)

func (e *engine) buildHandlers() map[string]func(transport.Event) {
	h := map[string]func(transport.Event){
		chat.EventJoined:        e.handleJoined,
		chat.EventMessage:       e.handleMessage,
		chat.EventSharedMessage: e.handleMessage,
		chat.EventStreamStart:   e.handleStreamStart,
		chat.EventStreamChunk:   e.handleStreamChunk,
		chat.EventStreamEnd:     e.handleStreamEnd,
		chat.EventFinalized:     func(transport.Event) { e.markFinalized() },
		chat.EventError:         e.handleError,
	}
	if e.presence != nil {
		h[chat.EventUserRole] = e.handleUserRole
		h[chat.EventParticipantsUpdate] = e.handleParticipants
		h[chat.EventParticipantOnline] = func(ev transport.Event) { e.handleOnline(ev, true) }
		h[chat.EventParticipantOffline] = func(ev transport.Event) { e.handleOnline(ev, false) }
		h[chat.EventParticipantTyping] = e.handleTyping
	}
	return h
}

func (e *engine) dispatch(ev transport.Event) {
	handle, ok := e.handlers[ev.Name]
	if !ok {
		e.logger.Debug("ignoring unhandled event", "event", ev.Name)
		return
	}
	handle(ev)
}

// decode unmarshals ev into v, logging and reporting false on bad payloads.
func (e *engine) decode(ev transport.Event, v any) bool {
	if err := ev.Decode(v); err != nil {
		e.logger.Warn("dropping malformed event", "event", ev.Name, "error", err)
		return false
	}
	return true
}

func (e *engine) handleJoined(ev transport.Event) {
	var p chat.JoinedPayload
	if !e.decode(ev, &p) {
		return
	}

	e.store.Seed(p.Session.Messages)
	for _, m := range p.Session.Messages {
		if m.IsProvisional() {
			continue
		}
		e.seen.Remember(deliveryKey(m))
		if m.ClientID != "" {
			e.queue.Acknowledge(m.ClientID)
		}
	}
	e.logger.Info("joined session",
		"history", len(p.Session.Messages), "status", p.Session.Status)

	e.events.Publish(Event{Type: EventHistory, Messages: e.store.Snapshot()})
	if p.Session.Status == chat.StatusFinalized {
		e.markFinalized()
	}
}

func (e *engine) handleMessage(ev transport.Event) {
	var m chat.Message
	if !e.decode(ev, &m) {
		return
	}
	if m.ID == "" {
		e.logger.Warn("dropping message without id", "event", ev.Name)
		return
	}

	if m.ClientID != "" {
		e.queue.Acknowledge(m.ClientID)
	}
	e.store.AppendConfirmed(m)

	if e.seen.SeenOrRemember(deliveryKey(m)) {
		e.metrics.DuplicateDropped()
		e.logger.Debug("suppressing unchanged redelivery", "message_id", m.ID)
		return
	}
	e.events.Publish(Event{Type: EventMessage, Message: m})
}

// deliveryKey identifies one version of a confirmed message. A corrected
// copy under the same ID gets a new key and is published again.
func deliveryKey(m chat.Message) string {
	sum := sha256.Sum256([]byte(m.Content))
	return m.ID + ":" + hex.EncodeToString(sum[:8])
}

func (e *engine) handleStreamStart(transport.Event) {
	if err := e.store.BeginStream(); err != nil {
		return
	}
	e.events.Publish(Event{Type: EventStreamStart})
}

func (e *engine) handleStreamChunk(ev transport.Event) {
	var p chat.ChunkPayload
	if !e.decode(ev, &p) {
		return
	}
	if e.store.AppendStreamChunk(p.Content) {
		e.events.Publish(Event{Type: EventStreamStart})
	}
	e.metrics.StreamChunk()
	e.events.Publish(Event{Type: EventStreamChunk, Chunk: p.Content})
}

func (e *engine) handleStreamEnd(transport.Event) {
	if e.store.EndStream() {
		e.events.Publish(Event{Type: EventStreamEnd})
	}
}

func (e *engine) handleError(ev transport.Event) {
	var p chat.ErrorPayload
	if !e.decode(ev, &p) {
		return
	}
	err := &ServerError{Message: p.Message}
	e.logger.Warn("server reported error", "error", p.Message)
	e.setErr(err)
	e.events.Publish(Event{Type: EventError, Err: err})
}

func (e *engine) handleUserRole(ev transport.Event) {
	var p chat.RolePayload
	if !e.decode(ev, &p) {
		return
	}
	if e.presence.AssignRole(p.Role) {
		e.events.Publish(Event{Type: EventRole, Role: p.Role})
	}
}

func (e *engine) handleParticipants(ev transport.Event) {
	var p chat.ParticipantsPayload
	if !e.decode(ev, &p) {
		return
	}
	e.presence.ReplaceAll(p.Participants)
	e.publishPresence()
}

func (e *engine) handleOnline(ev transport.Event, online bool) {
	var p chat.ParticipantPayload
	if !e.decode(ev, &p) {
		return
	}
	if e.presence.SetOnline(p.UserID, online) {
		e.publishPresence()
	}
}

func (e *engine) handleTyping(ev transport.Event) {
	var p chat.ParticipantPayload
	if !e.decode(ev, &p) {
		return
	}
	if !e.presence.SetTyping(p.UserID, p.IsTyping) {
		return
	}
	e.publishPresence()
	if p.IsTyping {
		e.armTypingExpiry()
	}
}

// armTypingExpiry republishes presence once the latest typing flag lapses,
// so subscribers see it clear without a stop event.
func (e *engine) armTypingExpiry() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if e.typingTimer != nil {
		e.typingTimer.Stop()
	}
	e.typingTimer = time.AfterFunc(e.presence.TypingTTL(), e.publishPresence)
}
