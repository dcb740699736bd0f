// ABOUTME: Ordered outbound message buffer flushed on reconnect
// ABOUTME: Bounded ack waits, tail re-enqueue on failure, idempotency-key acknowledgement

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/dedupe"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/metrics"
	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/transport"
)

// DefaultAckTimeout bounds the wait for each flushed message.
const DefaultAckTimeout = 5 * time.Second

const (
	ackedWindowTTL  = 10 * time.Minute
	ackedWindowKeys = 1024
)

// Sender delivers one queued message and returns once the server acked it.
type Sender func(ctx context.Context, msg chat.QueuedMessage) error

// Persister stores the queue contents between process runs.
type Persister interface {
	Load(ctx context.Context) ([]chat.QueuedMessage, error)
	Save(ctx context.Context, msgs []chat.QueuedMessage) error
}

// Options configures a Queue. Send and Connected are required.
type Options struct {
	Send       Sender
	Connected  func() bool
	AckTimeout time.Duration
	Persister  Persister
	Metrics    *metrics.Collectors
	Logger     *slog.Logger
}

// Queue holds outbound messages until the server acknowledges them.
// Messages stay queued while they are being sent, so Pending always shows
// everything not yet confirmed.
type Queue struct {
	opts   Options
	logger *slog.Logger
	acked  *dedupe.Window

	mu    sync.Mutex
	items []chat.QueuedMessage

	flushing  atomic.Bool
	persistMu sync.Mutex
}

// New creates a queue, restoring any persisted backlog.
func New(ctx context.Context, opts Options) (*Queue, error) {
	if opts.Send == nil || opts.Connected == nil {
		return nil, errors.New("queue: Send and Connected are required")
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		opts:   opts,
		logger: logger.With("component", "queue"),
		acked:  dedupe.NewWindow(ackedWindowTTL, ackedWindowKeys),
	}

	if opts.Persister != nil {
		restored, err := opts.Persister.Load(ctx)
		if err != nil {
			q.acked.Close()
			return nil, fmt.Errorf("loading outbound backlog: %w", err)
		}
		q.items = restored
		if len(restored) > 0 {
			q.logger.Info("restored outbound backlog", "count", len(restored))
		}
	}
	q.opts.Metrics.SetQueueDepth(len(q.items))
	return q, nil
}

// NewMessage builds a queued message with a fresh idempotency key.
func NewMessage(content string) chat.QueuedMessage {
	return chat.QueuedMessage{
		Key:        uuid.NewString(),
		Content:    content,
		EnqueuedAt: time.Now(),
	}
}

// Enqueue appends content with a new idempotency key and returns the entry.
func (q *Queue) Enqueue(content string) chat.QueuedMessage {
	msg := NewMessage(content)
	q.Push(msg)
	return msg
}

// Push appends msg at the tail. Messages already acknowledged or already
// queued under the same key are ignored.
func (q *Queue) Push(msg chat.QueuedMessage) {
	if q.acked.Seen(msg.Key) {
		return
	}
	q.mu.Lock()
	if q.indexLocked(msg.Key) >= 0 {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	q.changed()
}

// Acknowledge records key as delivered and drops any queued copy. Later
// pushes and flushes of that key are skipped.
func (q *Queue) Acknowledge(key string) {
	if key == "" {
		return
	}
	q.acked.Remember(key)

	q.mu.Lock()
	i := q.indexLocked(key)
	if i >= 0 {
		q.items = append(q.items[:i], q.items[i+1:]...)
	}
	q.mu.Unlock()

	if i >= 0 {
		q.logger.Debug("dropped queued copy of acknowledged message", "key", key)
		q.changed()
	}
}

// Acknowledged reports whether key was acknowledged recently.
func (q *Queue) Acknowledged(key string) bool {
	return q.acked.Seen(key)
}

// Flush sends every queued message in order, one at a time, and returns how
// many were delivered. It does nothing unless connected, and a call made
// while another flush is running returns immediately. Messages pushed while
// the flush runs are picked up before it returns.
//
// A message that fails or times out is moved to the tail at the moment it
// fails and the batch continues; it is not retried until the next flush. If
// the failure shows the socket is gone, the flush stops and everything else
// stays queued where it was.
func (q *Queue) Flush(ctx context.Context) int {
	if !q.opts.Connected() {
		return 0
	}
	if !q.flushing.CompareAndSwap(false, true) {
		return 0
	}
	defer q.flushing.Store(false)

	attempted := make(map[string]bool)
	sent := 0
	for {
		batch := q.unattempted(attempted)
		if len(batch) == 0 {
			return sent
		}
		q.logger.Info("flushing outbound queue", "count", len(batch))

		for i, msg := range batch {
			attempted[msg.Key] = true
			if q.acked.Seen(msg.Key) {
				q.remove(msg.Key)
				continue
			}

			sendCtx, cancel := context.WithTimeout(ctx, q.opts.AckTimeout)
			err := q.opts.Send(sendCtx, msg)
			cancel()

			if err == nil {
				q.Acknowledge(msg.Key)
				q.opts.Metrics.MessageSent()
				sent++
				continue
			}

			if transport.IsDisconnect(err) || ctx.Err() != nil {
				q.logger.Warn("flush interrupted, keeping remaining messages",
					"error", err, "remaining", len(batch)-i)
				q.moveToTail(msg.Key)
				return sent
			}

			q.logger.Warn("queued message not acknowledged, re-enqueued",
				"key", msg.Key, "attempts", msg.Attempts+1, "error", err)
			q.moveToTail(msg.Key)
		}
	}
}

func (q *Queue) unattempted(attempted map[string]bool) []chat.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []chat.QueuedMessage
	for _, m := range q.items {
		if !attempted[m.Key] {
			out = append(out, m)
		}
	}
	return out
}

// Flushing reports whether a flush is running.
func (q *Queue) Flushing() bool {
	return q.flushing.Load()
}

// Pending returns a copy of the queued messages in send order.
func (q *Queue) Pending() []chat.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]chat.QueuedMessage(nil), q.items...)
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close releases the acknowledgement window.
func (q *Queue) Close() {
	q.acked.Close()
}

// moveToTail re-enqueues a failed message at the tail with its attempt count
// bumped. A message acknowledged in the meantime is dropped instead.
func (q *Queue) moveToTail(key string) {
	acked := q.acked.Seen(key)

	q.mu.Lock()
	i := q.indexLocked(key)
	if i < 0 {
		q.mu.Unlock()
		return
	}
	cur := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	if !acked {
		cur.Attempts++
		q.items = append(q.items, cur)
	}
	q.mu.Unlock()

	q.changed()
}

func (q *Queue) remove(key string) {
	q.mu.Lock()
	i := q.indexLocked(key)
	if i >= 0 {
		q.items = append(q.items[:i], q.items[i+1:]...)
	}
	q.mu.Unlock()

	if i >= 0 {
		q.changed()
	}
}

func (q *Queue) indexLocked(key string) int {
	for i, m := range q.items {
		if m.Key == key {
			return i
		}
	}
	return -1
}

// changed persists the latest contents and updates the depth gauge. The
// snapshot is taken under persistMu so the last save always wins.
func (q *Queue) changed() {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	snapshot := q.Pending()
	q.opts.Metrics.SetQueueDepth(len(snapshot))
	if q.opts.Persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.opts.Persister.Save(ctx, snapshot); err != nil {
		q.logger.Error("failed to persist outbound backlog", "error", err)
	}
}
