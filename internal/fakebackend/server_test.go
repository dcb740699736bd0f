// ABOUTME: Tests for the fake backend using the real WebSocket transport
// ABOUTME: Covers join history, idempotent sends, streamed replies, finalize and faults

package fakebackend

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/auth"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/store"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/transport"
)

func startServer(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	srv := New(opts)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return srv, hs.URL + SocketPath
}

type client struct {
	sock   transport.Socket
	events chan transport.Event
}

func dial(t *testing.T, rawURL, token string, query url.Values) *client {
	t.Helper()
	c := &client{events: make(chan transport.Event, 256)}
	sock, err := transport.NewWSDialer(nil).Dial(t.Context(), transport.DialOptions{
		URL:     rawURL,
		Query:   query,
		Token:   token,
		OnEvent: func(ev transport.Event) { c.events <- ev },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sock.Close() })
	c.sock = sock
	return c
}

// next waits for the next event with the given name, skipping others.
func (c *client) next(t *testing.T, name string) transport.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.events:
			if ev.Name == name {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func TestJoin_ReturnsStoredHistory(t *testing.T) {
	mem := store.NewMemoryStore()
	key := SessionKey("s-1")
	require.NoError(t, mem.AppendMessage(t.Context(), key, chat.Message{ID: "m1", Role: chat.RoleUser, Content: "earlier"}))
	_, u := startServer(t, Options{Store: mem, DisableReplies: true})

	c := dial(t, u, "", nil)
	require.NoError(t, c.sock.Emit(t.Context(), chat.EventJoin, chat.JoinPayload{SessionID: "s-1"}))

	var joined chat.JoinedPayload
	require.NoError(t, c.next(t, chat.EventJoined).Decode(&joined))
	assert.Equal(t, chat.StatusActive, joined.Session.Status)
	require.Len(t, joined.Session.Messages, 1)
	assert.Equal(t, "earlier", joined.Session.Messages[0].Content)
}

func TestMessage_IdempotentByClientID(t *testing.T) {
	srv, u := startServer(t, Options{DisableReplies: true})
	c := dial(t, u, "", nil)
	require.NoError(t, c.sock.Emit(t.Context(), chat.EventJoin, chat.JoinPayload{SessionID: "s-1"}))
	c.next(t, chat.EventJoined)

	out := chat.OutboundMessage{Content: "hello", ClientID: "k-1"}
	_, err := c.sock.Request(t.Context(), chat.EventMessage, out)
	require.NoError(t, err)
	_, err = c.sock.Request(t.Context(), chat.EventMessage, out)
	require.NoError(t, err, "retries are acknowledged")

	var echoed chat.Message
	require.NoError(t, c.next(t, chat.EventMessage).Decode(&echoed))
	assert.Equal(t, "k-1", echoed.ClientID)
	assert.NotEmpty(t, echoed.ID)

	transcript, err := srv.Transcript(t.Context(), SessionKey("s-1"))
	require.NoError(t, err)
	assert.Len(t, transcript, 1, "stored once")
}

func TestMessage_RequiresJoin(t *testing.T) {
	_, u := startServer(t, Options{DisableReplies: true})
	c := dial(t, u, "", nil)

	_, err := c.sock.Request(t.Context(), chat.EventMessage, chat.OutboundMessage{Content: "hi"})

	var ackErr *transport.AckError
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, "not joined", ackErr.Message)
}

func TestReply_StreamsThenConfirms(t *testing.T) {
	_, u := startServer(t, Options{Reply: func(string) string { return "one two three" }})
	c := dial(t, u, "", nil)
	require.NoError(t, c.sock.Emit(t.Context(), chat.EventJoin, chat.JoinPayload{SessionID: "s-1"}))
	c.next(t, chat.EventJoined)

	_, err := c.sock.Request(t.Context(), chat.EventMessage, chat.OutboundMessage{Content: "hi", ClientID: "k"})
	require.NoError(t, err)

	c.next(t, chat.EventStreamStart)
	var text string
	for {
		ev := <-c.events
		if ev.Name == chat.EventStreamEnd {
			break
		}
		require.Equal(t, chat.EventStreamChunk, ev.Name)
		var chunk chat.ChunkPayload
		require.NoError(t, ev.Decode(&chunk))
		text += chunk.Content
	}
	assert.Equal(t, "one two three", text)

	var final chat.Message
	require.NoError(t, c.next(t, chat.EventMessage).Decode(&final))
	assert.Equal(t, chat.RoleAI, final.Role)
	assert.Equal(t, "one two three", final.Content)
}

func TestFinalize_RejectsLaterMessages(t *testing.T) {
	srv, u := startServer(t, Options{DisableReplies: true})
	c := dial(t, u, "", nil)
	require.NoError(t, c.sock.Emit(t.Context(), chat.EventJoin, chat.JoinPayload{SessionID: "s-1"}))
	c.next(t, chat.EventJoined)

	_, err := c.sock.Request(t.Context(), chat.EventFinalize, chat.FinalizePayload{SessionID: "s-1"})
	require.NoError(t, err)
	c.next(t, chat.EventFinalized)

	_, err = c.sock.Request(t.Context(), chat.EventMessage, chat.OutboundMessage{Content: "too late"})
	var ackErr *transport.AckError
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, "session finalized", ackErr.Message)

	status, err := srv.opts.Store.GetStatus(t.Context(), SessionKey("s-1"))
	require.NoError(t, err)
	assert.Equal(t, chat.StatusFinalized, status)
}

func TestShared_RolesPresenceAndTyping(t *testing.T) {
	_, u := startServer(t, Options{DisableReplies: true})

	a := dial(t, u, "", url.Values{"relationshipId": {"rel"}, "userId": {"ua"}})
	require.NoError(t, a.sock.Emit(t.Context(), chat.EventJoinShared, chat.JoinPayload{RelationshipID: "rel", UserID: "ua"}))
	var role chat.RolePayload
	require.NoError(t, a.next(t, chat.EventUserRole).Decode(&role))
	assert.Equal(t, chat.RolePartnerA, role.Role)

	b := dial(t, u, "", url.Values{"relationshipId": {"rel"}, "userId": {"ub"}})
	require.NoError(t, b.sock.Emit(t.Context(), chat.EventJoinShared, chat.JoinPayload{RelationshipID: "rel", UserID: "ub"}))
	require.NoError(t, b.next(t, chat.EventUserRole).Decode(&role))
	assert.Equal(t, chat.RolePartnerB, role.Role)

	var online chat.ParticipantPayload
	require.NoError(t, a.next(t, chat.EventParticipantOnline).Decode(&online))
	assert.Equal(t, "ub", online.UserID)

	var roster chat.ParticipantsPayload
	require.NoError(t, b.next(t, chat.EventParticipantsUpdate).Decode(&roster))
	require.Len(t, roster.Participants, 2)
	assert.Equal(t, "ua", roster.Participants[0].ID)

	require.NoError(t, b.sock.Emit(t.Context(), chat.EventTyping, chat.TypingPayload{IsTyping: true}))
	var typing chat.ParticipantPayload
	require.NoError(t, a.next(t, chat.EventParticipantTyping).Decode(&typing))
	assert.Equal(t, "ub", typing.UserID)
	assert.True(t, typing.IsTyping)

	require.NoError(t, b.sock.Close())
	var offline chat.ParticipantPayload
	require.NoError(t, a.next(t, chat.EventParticipantOffline).Decode(&offline))
	assert.Equal(t, "ub", offline.UserID)
}

func TestFaults_DropAcksAndRejectTokens(t *testing.T) {
	srv, u := startServer(t, Options{DisableReplies: true})
	c := dial(t, u, "", nil)
	require.NoError(t, c.sock.Emit(t.Context(), chat.EventJoin, chat.JoinPayload{SessionID: "s-1"}))
	c.next(t, chat.EventJoined)

	srv.DropNextAcks(1)
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	_, err := c.sock.Request(ctx, chat.EventMessage, chat.OutboundMessage{Content: "lost ack", ClientID: "k"})
	require.ErrorIs(t, err, transport.ErrAckTimeout)
	c.next(t, chat.EventMessage)

	srv.RejectTokens(true)
	_, err = transport.NewWSDialer(nil).Dial(t.Context(), transport.DialOptions{URL: u})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	assert.Equal(t, 1, srv.DisconnectAll())
	select {
	case <-c.sock.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("socket not dropped")
	}
}

func TestVerifier_AuthenticatesHandshake(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	_, u := startServer(t, Options{Verifier: verifier, DisableReplies: true})

	_, err := transport.NewWSDialer(nil).Dial(t.Context(), transport.DialOptions{URL: u, Token: "bogus"})
	require.Error(t, err)

	token, err := verifier.Issue("ua", time.Hour)
	require.NoError(t, err)
	c := dial(t, u, token, nil)
	require.NoError(t, c.sock.Emit(t.Context(), chat.EventJoinShared, chat.JoinPayload{RelationshipID: "rel", UserID: "someone-else"}))

	var serverErr chat.ErrorPayload
	require.NoError(t, c.next(t, chat.EventError).Decode(&serverErr))
	assert.Equal(t, "user does not match token", serverErr.Message)
}

func TestVerifier_EnforcesRelationshipScope(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte("0123456789abcdef0123456789abcdef"))
	_, u := startServer(t, Options{Verifier: verifier, DisableReplies: true})

	token, err := verifier.Issue("ua", time.Hour, "rel-mine")
	require.NoError(t, err)
	c := dial(t, u, token, nil)

	require.NoError(t, c.sock.Emit(t.Context(), chat.EventJoinShared, chat.JoinPayload{RelationshipID: "rel-other", UserID: "ua"}))
	var serverErr chat.ErrorPayload
	require.NoError(t, c.next(t, chat.EventError).Decode(&serverErr))
	assert.Equal(t, "relationship not permitted", serverErr.Message)

	require.NoError(t, c.sock.Emit(t.Context(), chat.EventJoinShared, chat.JoinPayload{RelationshipID: "rel-mine", UserID: "ua"}))
	c.next(t, chat.EventJoined)
}
