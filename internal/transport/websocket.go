// ABOUTME: WebSocket implementation of the event socket using coder/websocket
// ABOUTME: Runs one read loop per connection and correlates acks by request ID

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// defaultReadLimit bounds a single inbound frame. Joined payloads carry the
// whole history, so this is well above the library default.
const defaultReadLimit = 4 << 20

// WSDialer dials the chat backend over WebSocket.
type WSDialer struct {
	// HTTPClient is used for the handshake. Nil uses http.DefaultClient.
	HTTPClient *http.Client
	// ReadLimit caps inbound frame size in bytes. Zero uses 4 MiB.
	ReadLimit int64

	logger *slog.Logger
}

// NewWSDialer creates a dialer. Pass nil logger for default.
func NewWSDialer(logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDialer{logger: logger.With("component", "transport")}
}

// Dial opens a socket and starts its read loop. Query values are merged into
// the URL and Token is sent as a bearer Authorization header.
func (d *WSDialer) Dial(ctx context.Context, opts DialOptions) (Socket, error) {
	target, err := buildURL(opts.URL, opts.Query)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	conn, resp, err := websocket.Dial(ctx, target.String(), &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: status %d: %w", target.Host, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing %s: %w", target.Host, err)
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	s := newWSSocket(conn, opts.OnEvent, d.logger)
	go s.readLoop()
	return s, nil
}

// buildURL merges query values into raw, keeping any values already present.
func buildURL(raw string, query url.Values) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing socket url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported socket url scheme %q", u.Scheme)
	}

	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// wsSocket is a Socket backed by one WebSocket connection.
type wsSocket struct {
	conn    *websocket.Conn
	onEvent Handler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]chan Frame
	done    chan struct{}
	err     error
	stopped bool
}

func newWSSocket(conn *websocket.Conn, onEvent Handler, logger *slog.Logger) *wsSocket {
	ctx, cancel := context.WithCancel(context.Background())
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &wsSocket{
		conn:    conn,
		onEvent: onEvent,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}
}

// Emit sends a fire-and-forget event.
func (s *wsSocket) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return s.write(ctx, Frame{Type: FrameEvent, Event: event, Data: data})
}

// Request sends an event and waits for the correlated ack.
func (s *wsSocket) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}

	id := uuid.NewString()
	ch := make(chan Frame, 1)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(ctx, Frame{Type: FrameEvent, Event: event, ID: id, Data: data}); err != nil {
		return nil, err
	}

	select {
	case f := <-ch:
		return decodeAck(event, f.Data)
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrAckTimeout, event)
		}
		return nil, ctx.Err()
	}
}

func (s *wsSocket) write(ctx context.Context, f Frame) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if err := wsjson.Write(ctx, s.conn, f); err != nil {
		select {
		case <-s.done:
			return ErrClosed
		default:
		}
		return fmt.Errorf("writing %s: %w", f.Event, err)
	}
	return nil
}

// readLoop delivers events in order and routes acks to waiting requests.
func (s *wsSocket) readLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.stop(err)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch f.Type {
		case FrameAck:
			s.mu.Lock()
			ch, ok := s.pending[f.ID]
			s.mu.Unlock()
			if !ok {
				s.logger.Debug("ack for unknown request", "request_id", f.ID)
				continue
			}
			select {
			case ch <- f:
			default:
			}
		case FrameEvent:
			s.onEvent(Event{Name: f.Event, Data: f.Data})
		default:
			s.logger.Debug("ignoring frame", "type", f.Type)
		}
	}
}

// stop records why the socket ended and releases waiters. Only the first
// reason is kept.
func (s *wsSocket) stop(reason error) {
	if !s.markStopped(reason) {
		return
	}
	s.cancel()
	_ = s.conn.CloseNow()
}

func (s *wsSocket) markStopped(reason error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	s.err = reason
	close(s.done)
	return true
}

// Done is closed when the socket stops.
func (s *wsSocket) Done() <-chan struct{} {
	return s.done
}

// Err reports why the socket stopped.
func (s *wsSocket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close sends a normal closure and stops the socket.
func (s *wsSocket) Close() error {
	if !s.markStopped(ErrClosed) {
		return nil
	}
	defer s.cancel()

	err := s.conn.Close(websocket.StatusNormalClosure, "client closing")
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		_ = s.conn.CloseNow()
	}
	return nil
}
