// ABOUTME: Contract tests run against both SQLite and in-memory stores
// ABOUTME: Covers backlog round trips, transcript upserts, limits and status

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

func queued(key, content string, attempts int) chat.QueuedMessage {
	return chat.QueuedMessage{
		Key:        key,
		Content:    content,
		EnqueuedAt: time.Now().UTC().Truncate(time.Second),
		Attempts:   attempts,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.SaveBacklog(ctx, "single:s1", []chat.QueuedMessage{queued("k1", "hello", 0)}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath)
	require.NoError(t, err, "migrations must be idempotent")
	defer s.Close()

	got, err := s.LoadBacklog(ctx, "single:s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Content)
}

func TestBacklog_RoundTripInOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		msgs := []chat.QueuedMessage{
			queued("k2", "second", 0),
			queued("k1", "first", 2),
			queued("k3", "third", 1),
		}

		require.NoError(t, s.SaveBacklog(ctx, "single:s1", msgs))
		got, err := s.LoadBacklog(ctx, "single:s1")

		require.NoError(t, err)
		require.Len(t, got, 3)
		for i := range msgs {
			assert.Equal(t, msgs[i].Key, got[i].Key)
			assert.Equal(t, msgs[i].Content, got[i].Content)
			assert.Equal(t, msgs[i].Attempts, got[i].Attempts)
			assert.True(t, msgs[i].EnqueuedAt.Equal(got[i].EnqueuedAt), "enqueued_at round trips")
		}
	})
}

func TestBacklog_SaveReplaces(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		require.NoError(t, s.SaveBacklog(ctx, "k", []chat.QueuedMessage{queued("a", "a", 0), queued("b", "b", 0)}))
		require.NoError(t, s.SaveBacklog(ctx, "k", []chat.QueuedMessage{queued("b", "b", 1)}))

		got, err := s.LoadBacklog(ctx, "k")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].Key)

		require.NoError(t, s.SaveBacklog(ctx, "k", nil))
		got, err = s.LoadBacklog(ctx, "k")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestBacklog_SessionsIsolated(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		require.NoError(t, s.SaveBacklog(ctx, "single:s1", []chat.QueuedMessage{queued("a", "one", 0)}))
		require.NoError(t, s.SaveBacklog(ctx, "shared:r1", []chat.QueuedMessage{queued("a", "two", 0)}))

		got, err := s.LoadBacklog(ctx, "single:s1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "one", got[0].Content)
	})
}

func TestBacklog_Adapter(t *testing.T) {
	mem := NewMemoryStore()
	b := NewBacklog(mem, "single:s9")

	require.NoError(t, b.Save(t.Context(), []chat.QueuedMessage{queued("k", "hi", 0)}))
	got, err := b.Load(t.Context())

	require.NoError(t, err)
	require.Len(t, got, 1)
	other, _ := mem.LoadBacklog(t.Context(), "single:other")
	assert.Empty(t, other)
}

func TestTranscript_AppendUpsertsByID(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		ts := time.Now().UTC().Truncate(time.Second)

		require.NoError(t, s.AppendMessage(ctx, "c1", chat.Message{ID: "m1", Role: chat.RoleUser, Content: "hi", ClientID: "k1", Timestamp: ts}))
		require.NoError(t, s.AppendMessage(ctx, "c1", chat.Message{ID: "m2", Role: chat.RoleAI, Content: "partial", Timestamp: ts}))
		require.NoError(t, s.AppendMessage(ctx, "c1", chat.Message{ID: "m2", Role: chat.RoleAI, Content: "complete", Timestamp: ts}))

		got, err := s.ListMessages(ctx, "c1", 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "m1", got[0].ID)
		assert.Equal(t, "k1", got[0].ClientID)
		assert.Equal(t, "complete", got[1].Content, "upsert keeps position")
	})
}

func TestTranscript_ListLimitKeepsNewest(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := t.Context()
		for _, id := range []string{"m1", "m2", "m3", "m4"} {
			require.NoError(t, s.AppendMessage(ctx, "c1", chat.Message{ID: id, Role: chat.RoleUser, Content: id, Timestamp: time.Now()}))
		}

		got, err := s.ListMessages(ctx, "c1", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "m3", got[0].ID)
		assert.Equal(t, "m4", got[1].ID)

		empty, err := s.ListMessages(ctx, "nope", 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestStatus_DefaultAndUpdate(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := t.Context()

		status, err := s.GetStatus(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, chat.StatusActive, status)

		require.NoError(t, s.SetStatus(ctx, "c1", chat.StatusFinalized))
		status, err = s.GetStatus(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, chat.StatusFinalized, status)
	})
}
