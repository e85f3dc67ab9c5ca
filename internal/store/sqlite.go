package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deskd/deskd/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection avoids
	// lock contention between concurrent turns.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			title TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			archived INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			content_json TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	metadata, _ := json.Marshal(session.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, status, archived, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, nullString(session.Title), string(session.Status),
		session.Archived, string(metadata), session.CreatedAt, session.UpdatedAt)
	return err
}

// GetSession retrieves a session by ID. Returns nil when the session does
// not exist.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, title, status, archived, metadata, created_at, updated_at
		 FROM sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns all sessions ordered by most recently updated.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, title, status, archived, metadata, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// UpdateSession persists the mutable fields of a session and refreshes its
// updated_at timestamp.
func (s *SQLiteStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	session.UpdatedAt = time.Now().UTC()
	metadata, _ := json.Marshal(session.Metadata)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, status = ?, archived = ?, metadata = ?, updated_at = ?
		 WHERE session_id = ?`,
		nullString(session.Title), string(session.Status), session.Archived,
		string(metadata), session.UpdatedAt, session.SessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s not found", session.SessionID)
	}
	return nil
}

// CreateMessage appends a message to a session's history.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	var contentJSON interface{}
	if len(message.ContentJSON) > 0 {
		contentJSON = string(message.ContentJSON)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, content_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.SessionID, string(message.Role),
		nullString(message.Content), contentJSON, message.CreatedAt)
	return err
}

// GetMessages returns a session's messages in creation order.
func (s *SQLiteStore) GetMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, role, content, content_json, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC, message_id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var content, contentJSON sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &role, &content, &contentJSON, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		if content.Valid {
			msg.Content = content.String
		}
		if contentJSON.Valid && contentJSON.String != "" {
			msg.ContentJSON = json.RawMessage(contentJSON.String)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var session domain.Session
	var title, metadata sql.NullString
	var status string
	err := row.Scan(&session.SessionID, &title, &status, &session.Archived,
		&metadata, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	session.Status = domain.SessionStatus(status)
	if title.Valid {
		session.Title = title.String
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &session.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode session metadata: %w", err)
		}
	}
	return &session, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
