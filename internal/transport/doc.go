// Package transport carries named JSON events between the chat client and
// the backend.
//
// # Frames
//
// Every WebSocket text message is one Frame:
//
//	{"type":"event","event":"send-message","id":"<uuid>","data":{...}}
//	{"type":"ack","id":"<uuid>","data":{"error":"..."}}
//
// Events that expect an acknowledgment carry an ID. The server answers with
// an ack frame echoing that ID. An ack whose data has a non-empty error field
// is reported as an *AckError.
//
// # Sockets
//
// A Socket is a single connection. It never reconnects on its own; the
// reconnect package owns that policy and dials a fresh Socket each time.
// Inbound events are handed to the Handler one at a time on the read
// goroutine, in the order the server sent them. Malformed frames are logged
// and skipped.
package transport
