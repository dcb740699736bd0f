// ABOUTME: Event socket abstraction used by the reconnect controller
// ABOUTME: Defines frames, named events, ack correlation errors and the Dialer interface

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// Socket errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("socket closed")
	ErrAckTimeout   = errors.New("ack timeout")
)

// Frame types on the wire.
const (
	FrameEvent = "event"
	FrameAck   = "ack"
)

// Frame is the JSON envelope exchanged over the socket. ID is set on
// ack-expecting events and echoed by the matching ack.
type Frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AckPayload is the body of an acknowledgment. A non-empty Error means the
// server rejected the request.
type AckPayload struct {
	Error string `json:"error,omitempty"`
}

// AckError is returned by Request when the server acknowledged with an error.
type AckError struct {
	Event   string
	Message string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Event, e.Message)
}

// IsDisconnect reports whether err means the socket is gone, as opposed to a
// per-request failure.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClosed)
}

// Event is one named inbound event.
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event body into v. An empty body leaves v untouched.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Name, err)
	}
	return nil
}

// Handler receives inbound events in delivery order, one at a time, on the
// socket's read goroutine. Handlers must not block on Request of the same
// socket.
type Handler func(Event)

// Socket is one open connection to the backend.
type Socket interface {
	// Emit sends a fire-and-forget event.
	Emit(ctx context.Context, event string, payload any) error
	// Request sends an event and waits for its ack until ctx is done.
	Request(ctx context.Context, event string, payload any) (json.RawMessage, error)
	// Done is closed once the socket has stopped, for any reason.
	Done() <-chan struct{}
	// Err reports why the socket stopped. Valid after Done is closed.
	Err() error
	// Close performs an intentional local close.
	Close() error
}

// DialOptions describes one connection attempt.
type DialOptions struct {
	URL     string
	Query   url.Values
	Token   string
	OnEvent Handler
}

// Dialer opens sockets. The handshake must respect ctx.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Socket, error)
}

// decodeAck turns an ack frame into the Request result.
func decodeAck(event string, data json.RawMessage) (json.RawMessage, error) {
	if len(data) == 0 {
		return data, nil
	}
	var ack AckPayload
	if err := json.Unmarshal(data, &ack); err == nil && ack.Error != "" {
		return data, &AckError{Event: event, Message: ack.Error}
	}
	return data, nil
}
