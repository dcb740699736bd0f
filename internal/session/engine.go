// ABOUTME: Session engine shared by the single-party and shared session facades
// ABOUTME: Wires controller, queue, message store and presence; owns send, typing and finalize

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/dedupe"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/messages"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/metrics"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/presence"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/queue"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/reconnect"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/transport"
)

// Session errors
var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrFinalized    = errors.New("session is finalized")
	ErrQueued       = errors.New("message queued for retry")
	ErrClosed       = errors.New("session closed")
)

// ServerError is an error the server reported through an error event.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	Connection   chat.ConnectionState
	Connected    bool
	Streaming    bool
	Finalized    bool
	Err          error
	Attempt      int
	Messages     []chat.Message
	Pending      []chat.QueuedMessage
	Participants []chat.Participant
	SelfRole     chat.Role
}

// protocol holds what differs between the single-party and shared dialects.
type protocol struct {
	mode          string
	joinEvent     string
	join          chat.JoinPayload
	sendEvent     string
	finalizeEvent string
	finalize      chat.FinalizePayload
	query         func(token string) url.Values
	shared        bool
}

type engine struct {
	cfg     Config
	proto   protocol
	logger  *slog.Logger
	metrics *metrics.Collectors

	ctrl     *reconnect.Controller
	queue    *queue.Queue
	store    *messages.Store
	presence *presence.Coordinator
	seen     *dedupe.Window
	events   *Broadcaster
	typing   *rate.Limiter
	handlers map[string]func(transport.Event)

	flushCtx    context.Context
	flushCancel context.CancelFunc
	flushWG     sync.WaitGroup

	finalized atomic.Bool

	mu          sync.Mutex
	lastErr     error
	typingTimer *time.Timer
	closed      bool
}

func newEngine(ctx context.Context, cfg Config, opts Options, proto protocol) (*engine, error) {
	if opts.Tokens == nil {
		return nil, errors.New("session: token provider is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("session: URL is required")
	}
	cfg.applyDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session", "mode", proto.mode)

	dialer := opts.Dialer
	if dialer == nil {
		dialer = transport.NewWSDialer(logger)
	}

	e := &engine{
		cfg:     cfg,
		proto:   proto,
		logger:  logger,
		metrics: opts.Metrics,
		store:   messages.NewStore(logger),
		seen:    dedupe.NewWindow(cfg.DedupeTTL, dedupeWindowKeys),
		events:  NewBroadcaster(logger),
		typing:  rate.NewLimiter(rate.Every(cfg.TypingInterval), 1),
	}
	if proto.shared {
		e.presence = presence.New(cfg.TypingTTL, logger)
	}
	e.flushCtx, e.flushCancel = context.WithCancel(context.Background())

	q, err := queue.New(ctx, queue.Options{
		Send:       e.sendQueued,
		Connected:  func() bool { return e.ctrl.Connected() },
		AckTimeout: cfg.AckTimeout,
		Persister:  opts.Backlog,
		Metrics:    opts.Metrics,
		Logger:     logger,
	})
	if err != nil {
		e.seen.Close()
		e.flushCancel()
		return nil, err
	}
	e.queue = q

	e.ctrl = reconnect.New(reconnect.Options{
		URL:            cfg.URL,
		Dialer:         dialer,
		Token:          opts.Tokens.Token,
		Query:          proto.query,
		JoinEvent:      proto.joinEvent,
		JoinPayload:    proto.join,
		OnEvent:        e.dispatch,
		OnStateChange:  e.onStateChange,
		OnConnected:    e.flushAsync,
		OnError:        e.onError,
		Finalized:      e.finalized.Load,
		InitialDelay:   cfg.InitialDelay,
		MaxDelay:       cfg.MaxDelay,
		ConnectTimeout: cfg.ConnectTimeout,
		Metrics:        opts.Metrics,
		Logger:         logger,
	})
	e.handlers = e.buildHandlers()
	return e, nil
}

// Connect opens the connection. Failures are retried with backoff in the
// background and reported through State().Err and error events; only
// ErrClosed is returned.
func (e *engine) Connect(ctx context.Context) error {
	err := e.ctrl.Connect(ctx)
	if errors.Is(err, reconnect.ErrClosed) {
		return ErrClosed
	}
	return nil
}

// SendMessage shows content in the log immediately and delivers it. While
// disconnected, or while earlier messages are still queued, it is queued and
// nil is returned. If the server does not acknowledge a direct send, the
// message is queued and the returned error wraps ErrQueued.
func (e *engine) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if e.finalized.Load() {
		return ErrFinalized
	}
	if e.isClosed() {
		return ErrClosed
	}

	msg := queue.NewMessage(content)
	local := e.store.AppendOptimistic(e.localRole(), content, msg.Key)
	e.events.Publish(Event{Type: EventMessage, Message: local})

	if !e.ctrl.Connected() || e.queue.Len() > 0 || e.queue.Flushing() {
		e.queue.Push(msg)
		e.publishQueue()
		e.flushAsync()
		return nil
	}

	ackCtx, cancel := context.WithTimeout(ctx, e.cfg.AckTimeout)
	defer cancel()
	if err := e.sendQueued(ackCtx, msg); err != nil {
		msg.Attempts++
		e.queue.Push(msg)
		e.publishQueue()
		e.logger.Warn("message not acknowledged, queued for retry",
			"client_id", msg.Key, "error", err)
		return fmt.Errorf("%w: %w", ErrQueued, err)
	}

	e.queue.Acknowledge(msg.Key)
	e.metrics.MessageSent()
	return nil
}

func (e *engine) sendQueued(ctx context.Context, msg chat.QueuedMessage) error {
	return e.ctrl.Request(ctx, e.proto.sendEvent, chat.OutboundMessage{
		Content:  msg.Content,
		ClientID: msg.Key,
	})
}

// SetTyping signals the local typing state. Starts are rate limited and
// silently dropped when over the limit; stops are always sent. Nothing is
// queued or retried.
func (e *engine) SetTyping(ctx context.Context, typing bool) error {
	if typing && !e.typing.Allow() {
		return nil
	}
	return e.ctrl.Emit(ctx, chat.EventTyping, chat.TypingPayload{IsTyping: typing})
}

// Finalize asks the server to close the session for good. It needs a live
// connection and succeeds only once the server acknowledges.
func (e *engine) Finalize(ctx context.Context) error {
	if e.finalized.Load() {
		return nil
	}
	if !e.ctrl.Connected() {
		return transport.ErrNotConnected
	}

	ackCtx, cancel := context.WithTimeout(ctx, e.cfg.FinalizeTimeout)
	defer cancel()
	if err := e.ctrl.Request(ackCtx, e.proto.finalizeEvent, e.proto.finalize); err != nil {
		return fmt.Errorf("finalizing session: %w", err)
	}
	e.markFinalized()
	return nil
}

// Subscribe returns a channel of change events, closed when ctx is done or
// the session is closed.
func (e *engine) Subscribe(ctx context.Context) (<-chan Event, string) {
	return e.events.Subscribe(ctx)
}

// Unsubscribe cancels a subscription early.
func (e *engine) Unsubscribe(subID string) {
	e.events.Unsubscribe(subID)
}

// State returns a snapshot of the connection, log, queue and presence.
func (e *engine) State() Snapshot {
	s := Snapshot{
		Connection: e.ctrl.State(),
		Streaming:  e.store.IsStreaming(),
		Finalized:  e.finalized.Load(),
		Err:        e.err(),
		Attempt:    e.ctrl.Attempt(),
		Messages:   e.store.Snapshot(),
		Pending:    e.queue.Pending(),
	}
	s.Connected = s.Connection == chat.StateConnected
	if e.presence != nil {
		s.Participants = e.presence.Snapshot()
		s.SelfRole = e.presence.SelfRole()
	}
	return s
}

// Config returns the settings the session was built with.
func (e *engine) Config() Config {
	return e.cfg
}

// IsAdmin reports whether the local user is on the admin allow-list.
func (e *engine) IsAdmin() bool {
	return e.cfg.IsAdmin(e.cfg.UserID)
}

// Close tears the session down. Reconnect timers, in-flight dials and
// pending acks are cancelled and subscriber channels are closed. Queued
// messages stay in the backlog.
func (e *engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
	e.mu.Unlock()

	err := e.ctrl.Close()
	e.flushCancel()
	e.flushWG.Wait()

	e.queue.Close()
	e.seen.Close()
	e.events.Close()
	e.logger.Debug("session closed")
	return err
}

// flushAsync drains the queue on its own goroutine so the caller, often the
// controller's connect path, never waits on acks.
func (e *engine) flushAsync() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.flushWG.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.flushWG.Done()
		if n := e.queue.Flush(e.flushCtx); n > 0 {
			e.logger.Info("delivered queued messages", "count", n)
		}
		e.publishQueue()
	}()
}

func (e *engine) onStateChange(state chat.ConnectionState) {
	switch state {
	case chat.StateConnected:
		e.setErr(nil)
	case chat.StateDisconnected:
		if e.presence != nil {
			e.presence.ResetConnection()
			e.publishPresence()
		}
	}
	e.events.Publish(Event{Type: EventState, State: state})
}

func (e *engine) onError(err error) {
	e.setErr(err)
	e.events.Publish(Event{Type: EventError, Err: err})
}

func (e *engine) markFinalized() {
	if !e.finalized.CompareAndSwap(false, true) {
		return
	}
	e.logger.Info("session finalized")
	e.events.Publish(Event{Type: EventFinalized})
}

func (e *engine) localRole() chat.Role {
	if e.presence != nil {
		if role := e.presence.SelfRole(); role != "" {
			return role
		}
	}
	return chat.RoleUser
}

func (e *engine) publishQueue() {
	e.events.Publish(Event{Type: EventQueue, Pending: e.queue.Len()})
}

func (e *engine) publishPresence() {
	if e.presence == nil {
		return
	}
	e.events.Publish(Event{Type: EventPresence, Participants: e.presence.Snapshot()})
}

func (e *engine) setErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *engine) err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
