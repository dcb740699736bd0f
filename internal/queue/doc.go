// Package queue buffers outbound chat messages while the session is offline
// and drains them after reconnect.
//
// Each message carries an idempotency key. Flush sends messages one at a time
// and waits a bounded time for each acknowledgment; a message that is not
// acknowledged goes back to the tail and the batch continues. Keys passed to
// Acknowledge are remembered for a while so a late server confirmation stops
// the same message from being sent again.
//
// A Persister can be supplied to keep the backlog across restarts; the store
// package provides a SQLite implementation.
package queue
