// Package presence keeps the participant roster of a shared session.
//
// Membership only changes through ReplaceAll, fed by the server's bulk
// participants snapshot. Online and typing events patch existing entries by
// user ID and are ignored for anyone not already in the roster. Typing flags
// lapse on their own after a TTL so a lost "stopped typing" signal cannot
// leave an indicator stuck on.
package presence
