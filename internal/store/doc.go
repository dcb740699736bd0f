// Package store persists what must outlive a process.
//
// On the client, the outbound backlog: messages the user sent while offline
// that the server has not acknowledged yet. NewBacklog binds one session's
// queue to a BacklogStore and satisfies queue.Persister.
//
// On the fake backend, conversation transcripts and their status, so a
// restarted backend can answer joined with real history.
//
// SQLiteStore (modernc.org/sqlite, WAL mode) implements both; MemoryStore
// is the in-memory equivalent for tests and throwaway runs.
package store
