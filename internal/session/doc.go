// Package session is the facade a chat UI talks to.
//
// A Session (single user with the AI) or SharedSession (two partners and the
// AI) owns one reconnecting socket, an ordered message log with streamed AI
// replies, an outbound queue that survives disconnects and, for shared
// sessions, the participant roster.
//
// Callers mutate through SendMessage, SetTyping and Finalize, read through
// State, and follow changes with Subscribe. Connection problems never come
// back as errors from these calls; they show up in State().Err and as
// EventError, while the session keeps reconnecting in the background until
// it is finalized or closed.
//
// Inbound events are handled on the socket's read goroutine in the order the
// server sent them. Queue flushes run on their own goroutine.
package session
