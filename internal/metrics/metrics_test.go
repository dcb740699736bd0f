// ABOUTME: Tests for session metric collectors
// ABOUTME: Checks registration on a private registry and nil-safety

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

func TestCollectors_ConnectionStateIsExclusive(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.SetConnectionState(chat.StateConnected)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ConnectionState.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ConnectionState.WithLabelValues("disconnected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.ConnectionState.WithLabelValues("connecting")))
}

func TestCollectors_Counters(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ReconnectScheduled()
	c.ReconnectScheduled()
	c.ConnectFailed()
	c.AckFailed("message")
	c.MessageSent()
	c.SetQueueDepth(3)
	c.StreamChunk()
	c.DuplicateDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ReconnectsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ConnectErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AckFailures.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesSent))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StreamChunks))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DuplicatesDropped))
}

func TestCollectors_NilIsNoop(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.SetConnectionState(chat.StateConnected)
		c.ReconnectScheduled()
		c.ConnectFailed()
		c.AckFailed("x")
		c.MessageSent()
		c.SetQueueDepth(1)
		c.StreamChunk()
		c.DuplicateDropped()
	})
}
