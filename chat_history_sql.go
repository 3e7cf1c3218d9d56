package shopassist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SQLChatHistoryStorage is a database/sql implementation of ChatHistoryStorage.
// It backs both the SQLite (mattn/go-sqlite3) and Postgres (lib/pq) stores.
type SQLChatHistoryStorage struct {
	db      *sql.DB
	dialect sqlDialect
	mu      sync.Mutex // serializes writes for SQLite, which allows a single writer
	logger  Logger
	now     func() time.Time
}

var sqliteHistorySchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_id ON chat_messages (session_id, id);`,
}

var postgresHistorySchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		version BIGINT NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_id ON chat_messages (session_id, id);`,
}

// NewSQLiteChatHistoryStorage creates the schema if needed and returns a SQLite-backed store.
// db must be opened with the "sqlite3" driver.
func NewSQLiteChatHistoryStorage(db *sql.DB, logger Logger) (*SQLChatHistoryStorage, error) {
	return newSQLChatHistoryStorage(context.Background(), db, sqliteDialect, sqliteHistorySchema, logger)
}

// NewPostgresChatHistoryStorage creates the schema if needed and returns a Postgres-backed store.
// db must be opened with the "postgres" driver.
func NewPostgresChatHistoryStorage(ctx context.Context, db *sql.DB, logger Logger) (*SQLChatHistoryStorage, error) {
	return newSQLChatHistoryStorage(ctx, db, postgresDialect, postgresHistorySchema, logger)
}

func newSQLChatHistoryStorage(ctx context.Context, db *sql.DB, dialect sqlDialect, schema []string, logger Logger) (*SQLChatHistoryStorage, error) {
	if logger == nil {
		logger = NewNullLogger()
	}
	storage := &SQLChatHistoryStorage{
		db:      db,
		dialect: dialect,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}

	if err := storage.initSchema(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return storage, nil
}

// initSchema creates the necessary tables if they don't exist
func (s *SQLChatHistoryStorage) initSchema(ctx context.Context, schema []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema init: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLChatHistoryStorage) lock() func() {
	if !s.dialect.serialize {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// GetMessages returns the session's messages ordered by insertion.
func (s *SQLChatHistoryStorage) GetMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT role, content, created_at FROM chat_messages WHERE session_id = ? ORDER BY id ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []ChatMessage{}
	for rows.Next() {
		var (
			role    string
			content []byte
			message ChatMessage
		)
		if err := rows.Scan(&role, &content, &message.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}

		message.Role = ChatRole(role)
		message.Content, err = unmarshalContent(content)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return messages, nil
}

// AddMessage upserts the session and appends the message in one transaction.
func (s *SQLChatHistoryStorage) AddMessage(ctx context.Context, sessionID string, message ChatMessage, userID string) error {
	unlock := s.lock()
	defer unlock()

	content, err := marshalContent(message.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	now := s.now()
	if message.Timestamp.IsZero() {
		message.Timestamp = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for adding message: %w", err)
	}
	defer tx.Rollback()

	upsertSQL := s.dialect.rebind(`
	INSERT INTO chat_sessions (session_id, user_id, created_at, updated_at, version)
	VALUES (?, ?, ?, ?, 1)
	ON CONFLICT (session_id) DO UPDATE SET
		updated_at = excluded.updated_at,
		version = chat_sessions.version + 1,
		user_id = CASE WHEN excluded.user_id <> '' THEN excluded.user_id ELSE chat_sessions.user_id END`)

	if _, err := tx.ExecContext(ctx, upsertSQL, sessionID, userID, now, now); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	insertSQL := s.dialect.rebind(`INSERT INTO chat_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertSQL, sessionID, string(message.Role), string(content), message.Timestamp.UTC()); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return tx.Commit()
}

// ClearHistory removes a session and its messages. Unknown sessions are a no-op.
func (s *SQLChatHistoryStorage) ClearHistory(ctx context.Context, sessionID string) error {
	unlock := s.lock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for clearing history: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM chat_messages WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM chat_sessions WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return tx.Commit()
}

// GetSession returns the session metadata or ErrSessionNotFound.
func (s *SQLChatHistoryStorage) GetSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	var session ChatSession
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT session_id, user_id, created_at, updated_at, version FROM chat_sessions WHERE session_id = ?`), sessionID).
		Scan(&session.SessionID, &session.UserID, &session.CreatedAt, &session.UpdatedAt, &session.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &session, nil
}

// Close closes the database connection
func (s *SQLChatHistoryStorage) Close() error {
	return s.db.Close()
}
