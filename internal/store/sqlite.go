// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists outbound backlogs and transcripts with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vadimalpha/couples-therapy-assistant-sub001/internal/chat"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS outbound_backlog (
			session_key TEXT NOT NULL,
			key TEXT NOT NULL,
			position INTEGER NOT NULL,
			content TEXT NOT NULL,
			enqueued_at DATETIME NOT NULL,
			PRIMARY KEY (session_key, key)
		);

		CREATE INDEX IF NOT EXISTS idx_backlog_session_position
			ON outbound_backlog(session_key, position);

		CREATE TABLE IF NOT EXISTS transcript_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_key TEXT NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			client_id TEXT,
			sender_id TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_transcript_conversation_id
			ON transcript_messages(conversation_key, id);

		CREATE TABLE IF NOT EXISTS conversation_status (
			conversation_key TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "outbound_backlog",
			column: "attempts",
			apply:  `ALTER TABLE outbound_backlog ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveBacklog replaces the stored backlog for sessionKey in one transaction.
func (s *SQLiteStore) SaveBacklog(ctx context.Context, sessionKey string, msgs []chat.QueuedMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbound_backlog WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("clearing backlog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outbound_backlog (session_key, key, position, content, enqueued_at, attempts)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		if _, err := stmt.ExecContext(ctx, sessionKey, m.Key, i, m.Content, m.EnqueuedAt.UTC(), m.Attempts); err != nil {
			return fmt.Errorf("inserting backlog entry %s: %w", m.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing backlog: %w", err)
	}
	return nil
}

// LoadBacklog returns the stored backlog for sessionKey in queue order.
func (s *SQLiteStore) LoadBacklog(ctx context.Context, sessionKey string) ([]chat.QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, content, enqueued_at, attempts
		FROM outbound_backlog
		WHERE session_key = ?
		ORDER BY position ASC
	`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("querying backlog: %w", err)
	}
	defer rows.Close()

	var msgs []chat.QueuedMessage
	for rows.Next() {
		var m chat.QueuedMessage
		if err := rows.Scan(&m.Key, &m.Content, &m.EnqueuedAt, &m.Attempts); err != nil {
			return nil, fmt.Errorf("scanning backlog entry: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating backlog: %w", err)
	}
	return msgs, nil
}

// AppendMessage stores msg, replacing any message with the same ID while
// keeping its original position.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationKey string, msg chat.Message) error {
	query := `
		INSERT INTO transcript_messages (conversation_key, id, role, content, client_id, sender_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_key, id) DO UPDATE SET
			role = excluded.role,
			content = excluded.content,
			client_id = excluded.client_id,
			sender_id = excluded.sender_id
	`
	_, err := s.db.ExecContext(ctx, query,
		conversationKey,
		msg.ID,
		string(msg.Role),
		msg.Content,
		nullString(msg.ClientID),
		nullString(msg.SenderID),
		msg.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving message: %w", err)
	}
	return nil
}

// nullString converts empty strings to nil for nullable columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListMessages returns the most recent messages in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationKey string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	// Select the newest rows first, then reverse to chronological order
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, client_id, sender_id, created_at
		FROM transcript_messages
		WHERE conversation_key = ?
		ORDER BY seq DESC
		LIMIT ?
	`, conversationKey, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m        chat.Message
			role     string
			clientID sql.NullString
			senderID sql.NullString
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &clientID, &senderID, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = chat.Role(role)
		m.ClientID = clientID.String
		m.SenderID = senderID.String
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SetStatus records the conversation status.
func (s *SQLiteStore) SetStatus(ctx context.Context, conversationKey, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_status (conversation_key, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`, conversationKey, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving status: %w", err)
	}
	return nil
}

// GetStatus returns the recorded status, defaulting to active.
func (s *SQLiteStore) GetStatus(ctx context.Context, conversationKey string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM conversation_status WHERE conversation_key = ?`, conversationKey,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.StatusActive, nil
	}
	if err != nil {
		return "", fmt.Errorf("querying status: %w", err)
	}
	return status, nil
}
