// Package reconnect supervises the session socket.
//
// A Controller dials through a transport.Dialer, announces the session with a
// join event on every successful open, then fires OnConnected so the caller
// can flush its outbound queue. When the socket drops it waits
//
//	min(InitialDelay * 2^attempt, MaxDelay)
//
// before the next attempt (1s doubling up to 30s by default) and resets the
// attempt counter once a connection succeeds. A finalized session, or one
// closed with Close, is never redialed.
//
// Token acquisition happens on every attempt. A token failure is reported as
// ErrTokenUnavailable and retried through the same backoff path as a failed
// dial.
package reconnect
