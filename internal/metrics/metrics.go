// ABOUTME: Prometheus collectors for the chat session engine
// ABOUTME: Nil-safe recorder methods so components can run without metrics

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

const namespace = "couples_chat"

var connectionStates = []chat.ConnectionState{
	chat.StateDisconnected,
	chat.StateConnecting,
	chat.StateConnected,
}

// Collectors holds the session metrics. A nil *Collectors records nothing.
type Collectors struct {
	ConnectionState   *prometheus.GaugeVec
	ReconnectsTotal   prometheus.Counter
	ConnectErrors     prometheus.Counter
	AckFailures       *prometheus.CounterVec
	MessagesSent      prometheus.Counter
	QueueDepth        prometheus.Gauge
	StreamChunks      prometheus.Counter
	DuplicatesDropped prometheus.Counter
}

// New creates the collectors and registers them on reg. Registering twice on
// the same registry panics, so give each session its own registry or share one
// Collectors value.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	c := &Collectors{
		ConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "1 for the current connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		ReconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_scheduled_total",
				Help:      "Reconnect attempts scheduled after a disconnect",
			},
		),
		ConnectErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_errors_total",
				Help:      "Failed connection attempts, including token failures",
			},
		),
		AckFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ack_failures_total",
				Help:      "Acknowledged requests that failed or timed out",
			},
			[]string{"event"},
		),
		MessagesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Outbound messages acknowledged by the server",
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "outbound_queue_depth",
				Help:      "Messages waiting in the outbound queue",
			},
		),
		StreamChunks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_chunks_total",
				Help:      "Streamed response chunks received",
			},
		),
		DuplicatesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_events_dropped_total",
				Help:      "Inbound events dropped as redeliveries",
			},
		),
	}
	c.SetConnectionState(chat.StateDisconnected)
	return c
}

// SetConnectionState marks state as current.
func (c *Collectors) SetConnectionState(state chat.ConnectionState) {
	if c == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.ConnectionState.WithLabelValues(s.String()).Set(v)
	}
}

func (c *Collectors) ReconnectScheduled() {
	if c == nil {
		return
	}
	c.ReconnectsTotal.Inc()
}

func (c *Collectors) ConnectFailed() {
	if c == nil {
		return
	}
	c.ConnectErrors.Inc()
}

func (c *Collectors) AckFailed(event string) {
	if c == nil {
		return
	}
	c.AckFailures.WithLabelValues(event).Inc()
}

func (c *Collectors) MessageSent() {
	if c == nil {
		return
	}
	c.MessagesSent.Inc()
}

func (c *Collectors) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

func (c *Collectors) StreamChunk() {
	if c == nil {
		return
	}
	c.StreamChunks.Inc()
}

func (c *Collectors) DuplicateDropped() {
	if c == nil {
		return
	}
	c.DuplicatesDropped.Inc()
}
