// ABOUTME: In-process chat backend speaking the single and shared session dialects
// ABOUTME: Streams canned AI replies and exposes fault injection for tests and local runs

package fakebackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/auth"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/store"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/transport"
)

// SocketPath is where the backend accepts socket connections.
const SocketPath = "/socket"

const writeTimeout = 5 * time.Second

// Options configures a Server. All fields are optional.
type Options struct {
	// Store keeps transcripts and status. Defaults to an in-memory store.
	Store store.TranscriptStore
	// Verifier authenticates connections. Nil accepts any caller.
	Verifier auth.TokenVerifier
	// Reply produces the AI answer to a user message. Defaults to an echo.
	Reply func(content string) string
	// ChunkDelay is the pause between streamed reply fragments.
	ChunkDelay time.Duration
	// DisableReplies turns the AI off, leaving a plain relay.
	DisableReplies bool
	Logger         *slog.Logger
}

// Server is a fake chat backend. Use Handler to mount it.
type Server struct {
	opts   Options
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	rooms map[string]*room
	conns map[*conn]struct{}

	dropAcks     atomic.Int32
	rejectTokens atomic.Bool
}

type room struct {
	key      string
	shared   bool
	members  map[*conn]struct{}
	roles    map[string]chat.Role
	byClient map[string]string
	streamMu sync.Mutex
}

type conn struct {
	ws     *websocket.Conn
	ident  *auth.Identity
	userID string
	room   *room
	role   chat.Role
}

// New creates a backend. Call Close to stop reply streams and drop sockets.
func New(opts Options) *Server {
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Reply == nil {
		opts.Reply = EchoReply
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:   opts,
		logger: logger.With("component", "fakebackend"),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*room),
		conns:  make(map[*conn]struct{}),
	}
}

// EchoReply is the default AI answer.
func EchoReply(content string) string {
	return fmt.Sprintf("I hear you saying: %q. How did that feel?", content)
}

// Handler returns the HTTP handler serving SocketPath.
func (s *Server) Handler() http.Handler {
	var socket http.Handler = http.HandlerFunc(s.serveSocket)
	if s.opts.Verifier != nil {
		socket = auth.HTTPAuthMiddleware(s.opts.Verifier)(socket)
	}

	mux := http.NewServeMux()
	mux.Handle(SocketPath, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rejectTokens.Load() {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		socket.ServeHTTP(w, r)
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// DropNextAcks makes the server process the next n acked requests but never
// acknowledge them.
func (s *Server) DropNextAcks(n int) {
	s.dropAcks.Store(int32(n))
}

// RejectTokens makes every new connection fail the handshake with 401.
func (s *Server) RejectTokens(reject bool) {
	s.rejectTokens.Store(reject)
}

// DisconnectAll drops every open socket without a close handshake and
// returns how many were dropped.
func (s *Server) DisconnectAll() int {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.CloseNow()
	}
	s.logger.Info("forced disconnect", "count", len(conns))
	return len(conns)
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Transcript returns the stored messages of a conversation key as produced
// by SessionKey or RelationshipKey.
func (s *Server) Transcript(ctx context.Context, key string) ([]chat.Message, error) {
	return s.opts.Store.ListMessages(ctx, key, 0)
}

// SessionKey is the transcript key of a single-party session.
func SessionKey(sessionID string) string { return "session:" + sessionID }

// RelationshipKey is the transcript key of a shared session.
func RelationshipKey(relationshipID string) string { return "relationship:" + relationshipID }

// Close stops reply streams and drops every socket.
func (s *Server) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.DisconnectAll()
	s.wg.Wait()
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	c := &conn{ws: ws}
	if id := auth.FromContext(r.Context()); id != nil {
		c.ident = id
		c.userID = id.UserID
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer s.leave(c)

	s.logger.Debug("socket opened", "remote_addr", r.RemoteAddr, "user_id", c.userID)
	for {
		var f transport.Frame
		if err := wsjson.Read(s.ctx, ws, &f); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug("socket read ended", "error", err)
			}
			return
		}
		if f.Type != transport.FrameEvent {
			continue
		}
		s.handle(c, f)
	}
}

func (s *Server) handle(c *conn, f transport.Frame) {
	switch f.Event {
	case chat.EventJoin:
		s.handleJoin(c, f, false)
	case chat.EventJoinShared:
		s.handleJoin(c, f, true)
	case chat.EventMessage, chat.EventSharedMessage:
		s.handleMessage(c, f)
	case chat.EventTyping:
		s.handleTyping(c, f)
	case chat.EventFinalize, chat.EventFinalizeShared:
		s.handleFinalize(c, f)
	default:
		s.logger.Debug("unknown event", "event", f.Event)
		s.ack(c, f, "unknown event "+f.Event)
	}
}

func (s *Server) handleJoin(c *conn, f transport.Frame, shared bool) {
	var p chat.JoinPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		s.sendError(c, "malformed join")
		return
	}

	s.mu.Lock()
	userID := c.userID
	s.mu.Unlock()

	var key string
	switch {
	case shared && p.RelationshipID != "" && p.UserID != "":
		if userID != "" && userID != p.UserID {
			s.sendError(c, "user does not match token")
			return
		}
		if c.ident != nil && !c.ident.CanJoin(p.RelationshipID) {
			s.sendError(c, "relationship not permitted")
			return
		}
		userID = p.UserID
		key = RelationshipKey(p.RelationshipID)
	case !shared && p.SessionID != "":
		key = SessionKey(p.SessionID)
	default:
		s.sendError(c, "missing session identifier")
		return
	}

	history, err := s.opts.Store.ListMessages(s.ctx, key, 0)
	if err != nil {
		s.sendError(c, "loading history failed")
		return
	}
	status, err := s.opts.Store.GetStatus(s.ctx, key)
	if err != nil {
		s.sendError(c, "loading status failed")
		return
	}

	s.mu.Lock()
	rm := s.roomLocked(key, shared)
	for _, m := range history {
		if m.ClientID != "" {
			rm.byClient[m.ClientID] = m.ID
		}
	}
	if c.room != nil && c.room != rm {
		delete(c.room.members, c)
	}
	c.room = rm
	c.userID = userID
	rm.members[c] = struct{}{}
	c.role = chat.RoleUser
	if shared {
		c.role = rm.assignRoleLocked(userID)
	}
	role := c.role
	s.mu.Unlock()

	s.send(c, chat.EventJoined, chat.JoinedPayload{
		SessionID:      p.SessionID,
		RelationshipID: p.RelationshipID,
		Session:        chat.SessionHistory{Messages: history, Status: status},
	})
	s.logger.Info("client joined", "key", key, "user_id", userID, "history", len(history))

	if !shared {
		return
	}
	if role != "" {
		s.send(c, chat.EventUserRole, chat.RolePayload{Role: role})
	}
	s.broadcast(rm, c, chat.EventParticipantOnline, chat.ParticipantPayload{UserID: userID})
	s.broadcast(rm, nil, chat.EventParticipantsUpdate, chat.ParticipantsPayload{Participants: s.roster(rm)})
}

// roomLocked returns the room for key, creating it. Caller holds s.mu.
func (s *Server) roomLocked(key string, shared bool) *room {
	rm, ok := s.rooms[key]
	if !ok {
		rm = &room{
			key:      key,
			shared:   shared,
			members:  make(map[*conn]struct{}),
			roles:    make(map[string]chat.Role),
			byClient: make(map[string]string),
		}
		s.rooms[key] = rm
	}
	return rm
}

// assignRoleLocked gives userID a sticky partner role. A third user gets none.
func (rm *room) assignRoleLocked(userID string) chat.Role {
	if role, ok := rm.roles[userID]; ok {
		return role
	}
	taken := make(map[chat.Role]bool)
	for _, r := range rm.roles {
		taken[r] = true
	}
	for _, r := range []chat.Role{chat.RolePartnerA, chat.RolePartnerB} {
		if !taken[r] {
			rm.roles[userID] = r
			return r
		}
	}
	return ""
}

func (s *Server) handleMessage(c *conn, f transport.Frame) {
	var p chat.OutboundMessage
	if err := json.Unmarshal(f.Data, &p); err != nil {
		s.ack(c, f, "malformed message")
		return
	}
	if strings.TrimSpace(p.Content) == "" {
		s.ack(c, f, "empty message")
		return
	}

	s.mu.Lock()
	rm, role, userID := c.room, c.role, c.userID
	var dupID string
	if rm != nil && p.ClientID != "" {
		dupID = rm.byClient[p.ClientID]
	}
	s.mu.Unlock()

	if rm == nil {
		s.ack(c, f, "not joined")
		return
	}
	if status, _ := s.opts.Store.GetStatus(s.ctx, rm.key); status == chat.StatusFinalized {
		s.ack(c, f, "session finalized")
		return
	}
	if dupID != "" {
		s.logger.Debug("duplicate client message", "client_id", p.ClientID, "message_id", dupID)
		s.ack(c, f, "")
		return
	}
	if role == "" {
		role = chat.RoleUser
	}

	msg := chat.Message{
		ID:        "msg-" + uuid.NewString(),
		Role:      role,
		Content:   p.Content,
		Timestamp: time.Now().UTC(),
		ClientID:  p.ClientID,
		SenderID:  userID,
	}
	if err := s.opts.Store.AppendMessage(s.ctx, rm.key, msg); err != nil {
		s.ack(c, f, "storing message failed")
		return
	}
	if p.ClientID != "" {
		s.mu.Lock()
		rm.byClient[p.ClientID] = msg.ID
		s.mu.Unlock()
	}

	s.broadcast(rm, nil, f.Event, msg)
	s.ack(c, f, "")

	if !s.opts.DisableReplies && s.startReply() {
		go s.reply(rm, f.Event, p.Content)
	}
}

// startReply registers a reply goroutine unless the server is closing.
func (s *Server) startReply() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

// reply streams the AI answer word by word, then sends the confirmed copy.
// Replies in one room never overlap.
func (s *Server) reply(rm *room, event, prompt string) {
	defer s.wg.Done()
	rm.streamMu.Lock()
	defer rm.streamMu.Unlock()

	text := s.opts.Reply(prompt)
	s.broadcast(rm, nil, chat.EventStreamStart, nil)
	for i, word := range strings.SplitAfter(text, " ") {
		if i > 0 && s.opts.ChunkDelay > 0 {
			select {
			case <-time.After(s.opts.ChunkDelay):
			case <-s.ctx.Done():
				return
			}
		}
		s.broadcast(rm, nil, chat.EventStreamChunk, chat.ChunkPayload{Content: word})
	}
	s.broadcast(rm, nil, chat.EventStreamEnd, nil)

	msg := chat.Message{
		ID:        "msg-" + uuid.NewString(),
		Role:      chat.RoleAI,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	if err := s.opts.Store.AppendMessage(s.ctx, rm.key, msg); err != nil {
		s.logger.Warn("storing reply failed", "error", err)
		return
	}
	s.broadcast(rm, nil, event, msg)
}

func (s *Server) handleTyping(c *conn, f transport.Frame) {
	var p chat.TypingPayload
	if err := json.Unmarshal(f.Data, &p); err != nil {
		return
	}
	s.mu.Lock()
	rm, userID := c.room, c.userID
	s.mu.Unlock()
	if rm == nil || !rm.shared {
		return
	}
	s.broadcast(rm, c, chat.EventParticipantTyping, chat.ParticipantPayload{UserID: userID, IsTyping: p.IsTyping})
}

func (s *Server) handleFinalize(c *conn, f transport.Frame) {
	s.mu.Lock()
	rm := c.room
	s.mu.Unlock()
	if rm == nil {
		s.ack(c, f, "not joined")
		return
	}
	if err := s.opts.Store.SetStatus(s.ctx, rm.key, chat.StatusFinalized); err != nil {
		s.ack(c, f, "finalize failed")
		return
	}
	s.ack(c, f, "")
	s.broadcast(rm, nil, chat.EventFinalized, nil)
	s.logger.Info("session finalized", "key", rm.key)
}

func (s *Server) leave(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	rm, userID := c.room, c.userID
	stillOnline := false
	if rm != nil {
		delete(rm.members, c)
		for other := range rm.members {
			if other.userID == userID {
				stillOnline = true
			}
		}
	}
	s.mu.Unlock()

	_ = c.ws.CloseNow()
	if rm == nil || !rm.shared || stillOnline {
		return
	}
	s.broadcast(rm, nil, chat.EventParticipantOffline, chat.ParticipantPayload{UserID: userID})
	s.broadcast(rm, nil, chat.EventParticipantsUpdate, chat.ParticipantsPayload{Participants: s.roster(rm)})
}

// roster lists each online user once, in role order.
func (s *Server) roster(rm *room) []chat.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []chat.Participant
	for _, role := range []chat.Role{chat.RolePartnerA, chat.RolePartnerB} {
		for c := range rm.members {
			if c.role != role || seen[c.userID] {
				continue
			}
			seen[c.userID] = true
			out = append(out, chat.Participant{
				ID:          c.userID,
				DisplayName: c.userID,
				Role:        c.role,
				Online:      true,
			})
		}
	}
	return out
}

func (s *Server) ack(c *conn, f transport.Frame, errMsg string) {
	if f.ID == "" {
		return
	}
	if n := s.dropAcks.Load(); n > 0 && s.dropAcks.CompareAndSwap(n, n-1) {
		s.logger.Info("dropping ack", "event", f.Event, "id", f.ID)
		return
	}
	data, _ := json.Marshal(transport.AckPayload{Error: errMsg})
	s.write(c, transport.Frame{Type: transport.FrameAck, ID: f.ID, Data: data})
}

func (s *Server) sendError(c *conn, msg string) {
	s.send(c, chat.EventError, chat.ErrorPayload{Message: msg})
}

func (s *Server) send(c *conn, event string, payload any) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("encoding event failed", "event", event, "error", err)
			return
		}
		data = raw
	}
	s.write(c, transport.Frame{Type: transport.FrameEvent, Event: event, Data: data})
}

// broadcast sends to every member of rm except skip.
func (s *Server) broadcast(rm *room, skip *conn, event string, payload any) {
	s.mu.Lock()
	targets := make([]*conn, 0, len(rm.members))
	for c := range rm.members {
		if c != skip {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.send(c, event, payload)
	}
}

func (s *Server) write(c *conn, f transport.Frame) {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, f); err != nil {
		s.logger.Debug("write failed", "event", f.Event, "error", err)
	}
}
