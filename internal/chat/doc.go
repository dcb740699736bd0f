// Package chat defines the data model shared by the session engine:
// messages, roles, queued outbound messages, connection states and
// participant presence.
//
// Message identifiers are either server-assigned or provisional. Provisional
// identifiers start with "temp-" and are replaced when the server confirms
// the message.
package chat
