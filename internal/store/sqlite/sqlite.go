package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sharebite/sharebite-client/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS session (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	token      TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	username   TEXT NOT NULL DEFAULT '',
	saved_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS read_markers (
	conversation_id TEXT PRIMARY KEY,
	message_id      TEXT NOT NULL,
	read_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversations (
	id        TEXT PRIMARY KEY,
	title     TEXT NOT NULL DEFAULT '',
	joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the local database at dbPath and applies the
// schema. Use ":memory:" for an ephemeral store.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== SessionStore implementation ====

// SaveSession replaces the saved login.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess store.Session) error {
	query := `
		INSERT INTO session (id, token, user_id, username, saved_at)
		VALUES (1, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			user_id = excluded.user_id,
			username = excluded.username,
			saved_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, sess.Token, sess.UserID, sess.Username); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession returns the saved login, or nil when none exists.
func (s *SQLiteStore) LoadSession(ctx context.Context) (*store.Session, error) {
	query := `SELECT token, user_id, username, saved_at FROM session WHERE id = 1`
	var sess store.Session
	err := s.db.QueryRowContext(ctx, query).Scan(
		&sess.Token,
		&sess.UserID,
		&sess.Username,
		&sess.SavedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return &sess, nil
}

// ClearSession removes the saved login.
func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// ==== MarkerStore implementation ====

// SetReadMarker records messageID as the newest read message.
func (s *SQLiteStore) SetReadMarker(ctx context.Context, conversationID, messageID string) error {
	query := `
		INSERT INTO read_markers (conversation_id, message_id, read_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(conversation_id) DO UPDATE SET
			message_id = excluded.message_id,
			read_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID, messageID); err != nil {
		return fmt.Errorf("set read marker: %w", err)
	}
	return nil
}

// GetReadMarker returns the marker for a conversation, or nil when unset.
func (s *SQLiteStore) GetReadMarker(ctx context.Context, conversationID string) (*store.ReadMarker, error) {
	query := `SELECT conversation_id, message_id, read_at FROM read_markers WHERE conversation_id = ?`
	var m store.ReadMarker
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&m.ConversationID,
		&m.MessageID,
		&m.ReadAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query read marker: %w", err)
	}
	return &m, nil
}

// ListReadMarkers returns all markers.
func (s *SQLiteStore) ListReadMarkers(ctx context.Context) ([]*store.ReadMarker, error) {
	query := `SELECT conversation_id, message_id, read_at FROM read_markers ORDER BY read_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query read markers: %w", err)
	}
	defer rows.Close()

	var markers []*store.ReadMarker
	for rows.Next() {
		var m store.ReadMarker
		if err := rows.Scan(&m.ConversationID, &m.MessageID, &m.ReadAt); err != nil {
			return nil, fmt.Errorf("scan read marker: %w", err)
		}
		markers = append(markers, &m)
	}
	return markers, rows.Err()
}

// ==== ConversationStore implementation ====

// UpsertConversation adds or refreshes a roster entry.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, c store.Conversation) error {
	query := `
		INSERT INTO conversations (id, title, joined_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title
	`
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.Title); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// RemoveConversation drops a roster entry.
func (s *SQLiteStore) RemoveConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ListConversations returns the roster ordered by join time.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*store.Conversation, error) {
	query := `SELECT id, title, joined_at FROM conversations ORDER BY joined_at ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []*store.Conversation
	for rows.Next() {
		var c store.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, &c)
	}
	return convs, rows.Err()
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
