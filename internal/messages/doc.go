// Package messages holds the conversation log shown to callers.
//
// # Overview
//
// Store keeps messages in receipt order. Two things can change an existing
// entry after it was appended:
//
//   - Reconciliation: a server-confirmed message replaces, in place, the
//     optimistic entry it confirms (same server ID, same client ID, or a
//     provisional entry with the same role and exact content).
//   - Streaming: fragments are appended to the single entry currently
//     marked as streaming until the stream ends.
//
// # Streaming Invariant
//
// At most one entry is streaming at any time. A stream-start while a stream
// is open is reported as ErrStreamActive and ignored. A chunk that arrives
// without a start synthesizes the missing placeholder instead of failing.
package messages
