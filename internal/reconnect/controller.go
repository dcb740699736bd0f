// ABOUTME: Reconnection controller owning the socket lifecycle for one session
// ABOUTME: Idempotent connect, exponential backoff, join announcement and flush trigger

package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/metrics"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/transport"
)

// Controller errors
var (
	ErrTokenUnavailable = errors.New("token unavailable")
	ErrClosed           = errors.New("controller closed")
)

// Defaults for Options fields left zero.
const (
	DefaultInitialDelay   = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultConnectTimeout = 20 * time.Second
)

// Options configures a Controller. Dialer, URL and Token are required.
type Options struct {
	URL    string
	Dialer transport.Dialer

	// Token returns the current bearer token. Called on every attempt.
	Token func(ctx context.Context) (string, error)
	// Query builds the connect query for a token. Optional.
	Query func(token string) url.Values

	// JoinEvent and JoinPayload are emitted right after every successful open.
	JoinEvent   string
	JoinPayload any

	// OnEvent receives inbound events on the socket read goroutine.
	OnEvent transport.Handler
	// OnStateChange is called after each state transition. Intermediate
	// states may be coalesced, the final state is always delivered.
	OnStateChange func(chat.ConnectionState)
	// OnConnected runs after the join announcement on each successful open.
	OnConnected func()
	// OnError receives recoverable connection errors.
	OnError func(error)
	// Finalized reports whether the session is terminal. A finalized session
	// is never reconnected automatically.
	Finalized func() bool

	InitialDelay   time.Duration
	MaxDelay       time.Duration
	ConnectTimeout time.Duration

	Metrics *metrics.Collectors
	Logger  *slog.Logger
}

// Controller keeps at most one socket open and reconnects it with backoff.
// Hooks must not call Connect or Close synchronously.
type Controller struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	state      chat.ConnectionState
	sock       transport.Socket
	inFlight   bool
	attempt    int
	timer      *time.Timer
	dialCancel context.CancelFunc
	closed     bool

	hookMu    sync.Mutex
	published chat.ConnectionState
}

// New creates a controller in the disconnected state. Nothing is dialed until
// Connect is called.
func New(opts Options) *Controller {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opts:      opts,
		logger:    logger.With("component", "reconnect"),
		state:     chat.StateDisconnected,
		published: chat.StateDisconnected,
	}
}

// Backoff returns min(initial * 2^attempt, max). Large attempts saturate at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if initial <= 0 || initial >= max {
		return max
	}
	d := initial
	for i := 0; i < attempt; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	return d
}

// Connect opens the socket. It is a no-op while connected or while another
// attempt is in flight. The returned error is also delivered to OnError, and
// a failed attempt schedules a reconnect.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFlight || c.sock != nil {
		c.mu.Unlock()
		return nil
	}
	c.inFlight = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	c.dialCancel = cancel
	c.state = chat.StateConnecting
	attempt := c.attempt
	c.mu.Unlock()
	defer cancel()

	c.publishState()
	c.logger.Debug("connecting", "attempt", attempt)

	sock, err := c.dial(dialCtx)
	if err != nil {
		return c.connectFailed(err)
	}

	c.mu.Lock()
	c.inFlight = false
	c.dialCancel = nil
	if c.closed {
		c.mu.Unlock()
		_ = sock.Close()
		return ErrClosed
	}
	c.sock = sock
	c.attempt = 0
	c.state = chat.StateConnected
	c.mu.Unlock()

	go c.watch(sock)
	c.publishState()
	c.logger.Info("connected", "url", c.opts.URL)

	if c.opts.JoinEvent != "" {
		joinCtx, joinCancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
		err := sock.Emit(joinCtx, c.opts.JoinEvent, c.opts.JoinPayload)
		joinCancel()
		if err != nil {
			c.reportError(fmt.Errorf("sending %s: %w", c.opts.JoinEvent, err))
			return nil
		}
	}
	if c.opts.OnConnected != nil {
		c.opts.OnConnected()
	}
	return nil
}

func (c *Controller) dial(ctx context.Context) (transport.Socket, error) {
	token, err := c.opts.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}

	var query url.Values
	if c.opts.Query != nil {
		query = c.opts.Query(token)
	}
	return c.opts.Dialer.Dial(ctx, transport.DialOptions{
		URL:     c.opts.URL,
		Query:   query,
		Token:   token,
		OnEvent: c.opts.OnEvent,
	})
}

// connectFailed takes the normal disconnect path for a failed attempt.
func (c *Controller) connectFailed(err error) error {
	finalized := c.finalized()

	c.mu.Lock()
	c.inFlight = false
	c.dialCancel = nil
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = chat.StateDisconnected
	delay, scheduled := c.scheduleLocked(finalized)
	c.mu.Unlock()

	c.publishState()
	c.opts.Metrics.ConnectFailed()
	c.logger.Warn("connect failed", "error", err, "retry_in", delay, "retrying", scheduled)
	c.reportError(err)
	return err
}

// watch waits for sock to stop and runs the disconnect path. An unexpected
// drop is reported through OnError before the retry is armed.
func (c *Controller) watch(sock transport.Socket) {
	<-sock.Done()
	finalized := c.finalized()

	c.mu.Lock()
	if c.sock != sock {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	c.state = chat.StateDisconnected
	unexpected := !c.closed && !finalized
	c.mu.Unlock()

	c.publishState()
	if unexpected {
		reason := sock.Err()
		if reason == nil {
			reason = transport.ErrNotConnected
		}
		c.reportError(fmt.Errorf("connection lost: %w", reason))
	}

	c.mu.Lock()
	var delay time.Duration
	scheduled := false
	if c.sock == nil && !c.inFlight {
		delay, scheduled = c.scheduleLocked(finalized)
	}
	c.mu.Unlock()
	c.logger.Info("disconnected", "reason", sock.Err(), "retry_in", delay, "retrying", scheduled)
}

// scheduleLocked arms the reconnect timer unless the session is finalized or
// closed. Caller holds c.mu.
func (c *Controller) scheduleLocked(finalized bool) (time.Duration, bool) {
	if c.closed || finalized {
		return 0, false
	}
	delay := Backoff(c.attempt, c.opts.InitialDelay, c.opts.MaxDelay)
	c.attempt++
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, c.retry)
	c.opts.Metrics.ReconnectScheduled()
	return delay, true
}

func (c *Controller) retry() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	_ = c.Connect(context.Background())
}

// Close tears the connection down intentionally. No reconnect is scheduled
// afterwards and pending timers and dials are cancelled.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	sock := c.sock
	c.sock = nil
	c.state = chat.StateDisconnected
	c.mu.Unlock()

	var err error
	if sock != nil {
		err = sock.Close()
	}
	c.publishState()
	c.logger.Debug("closed")
	return err
}

// Emit sends a fire-and-forget event on the current socket.
func (c *Controller) Emit(ctx context.Context, event string, payload any) error {
	sock, err := c.current()
	if err != nil {
		return err
	}
	return sock.Emit(ctx, event, payload)
}

// Request sends an event on the current socket and waits for its ack.
func (c *Controller) Request(ctx context.Context, event string, payload any) error {
	sock, err := c.current()
	if err != nil {
		return err
	}
	_, err = sock.Request(ctx, event, payload)
	if err != nil {
		c.opts.Metrics.AckFailed(event)
	}
	return err
}

func (c *Controller) current() (transport.Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil {
		return nil, transport.ErrNotConnected
	}
	return c.sock, nil
}

// State returns the current connection state.
func (c *Controller) State() chat.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a socket is open.
func (c *Controller) Connected() bool {
	return c.State() == chat.StateConnected
}

// Attempt returns the number of reconnects scheduled since the last
// successful open.
func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Controller) finalized() bool {
	return c.opts.Finalized != nil && c.opts.Finalized()
}

func (c *Controller) reportError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// publishState delivers the current state if it differs from the last one
// delivered. Serialized so observers never see transitions out of order.
func (c *Controller) publishState() {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()

	state := c.State()
	if state == c.published {
		return
	}
	c.published = state
	c.opts.Metrics.SetConnectionState(state)
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(state)
	}
}
