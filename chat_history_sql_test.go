package shopassist

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteHistory(t *testing.T) *SQLChatHistoryStorage {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "chat_history_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	storage, err := NewSQLiteChatHistoryStorage(db, NewNullLogger())
	require.NoError(t, err)
	return storage
}

func TestSQLiteChatHistoryStorage(t *testing.T) {
	runChatHistoryStorageTests(t, func(t *testing.T) ChatHistoryStorage {
		return setupSQLiteHistory(t)
	})
}

func TestSQLiteChatHistoryStorage_InitSchemaTwice(t *testing.T) {
	storage := setupSQLiteHistory(t)
	ctx := context.Background()

	var count int
	err := storage.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('chat_sessions', 'chat_messages')").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "Expected 2 tables to be created")

	assert.NoError(t, storage.initSchema(ctx, sqliteHistorySchema), "initSchema should handle being called on an existing database")
}

func TestSQLiteChatHistoryStorage_InvalidPath(t *testing.T) {
	db, err := sql.Open("sqlite3", "/non/existent/directory/invalid.db")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLiteChatHistoryStorage(db, nil)
	assert.Error(t, err)
}

func newPostgresMock(t *testing.T) (*SQLChatHistoryStorage, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectBegin()
	for range postgresHistorySchema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	storage, err := NewPostgresChatHistoryStorage(context.Background(), db, nil)
	require.NoError(t, err)
	storage.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return storage, mock
}

func TestPostgresChatHistoryStorage_AddMessage(t *testing.T) {
	storage, mock := newPostgresMock(t)
	now := storage.now()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO chat_sessions .* VALUES \(\$1, \$2, \$3, \$4, 1\)\s+ON CONFLICT`).
		WithArgs("session-1", "user-1", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO chat_messages \(session_id, role, content, created_at\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs("session-1", "human", `[{"type":"text","text":"hello"}]`, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := storage.AddMessage(context.Background(), "session-1", NewHumanMessage("hello", nil, time.Time{}), "user-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresChatHistoryStorage_AddMessageRollsBack(t *testing.T) {
	storage, mock := newPostgresMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO chat_sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO chat_messages`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := storage.AddMessage(context.Background(), "session-1", NewAIMessage("hi", time.Now()), "")
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresChatHistoryStorage_GetMessages(t *testing.T) {
	storage, mock := newPostgresMock(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"role", "content", "created_at"}).
		AddRow("human", []byte(`[{"type":"text","text":"laptops?"}]`), at).
		AddRow("ai", []byte(`"Here are some laptops."`), at.Add(time.Second))
	mock.ExpectQuery(`SELECT role, content, created_at FROM chat_messages WHERE session_id = \$1 ORDER BY id ASC`).
		WithArgs("session-1").
		WillReturnRows(rows)

	msgs, err := storage.GetMessages(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, HumanRole, msgs[0].Role)
	assert.Equal(t, "laptops?", JoinText(msgs[0].Content))
	assert.Equal(t, AIRole, msgs[1].Role)
	assert.Equal(t, "Here are some laptops.", JoinText(msgs[1].Content))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresChatHistoryStorage_ClearHistory(t *testing.T) {
	storage, mock := newPostgresMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM chat_messages WHERE session_id = \$1`).WithArgs("session-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM chat_sessions WHERE session_id = \$1`).WithArgs("session-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, storage.ClearHistory(context.Background(), "session-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresChatHistoryStorage_GetSession(t *testing.T) {
	storage, mock := newPostgresMock(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT session_id, user_id, created_at, updated_at, version FROM chat_sessions WHERE session_id = \$1`).
		WithArgs("session-1").
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "user_id", "created_at", "updated_at", "version"}).
			AddRow("session-1", "user-1", at, at, 4))
	mock.ExpectQuery(`SELECT session_id`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	session, err := storage.GetSession(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), session.Version)
	assert.Equal(t, "user-1", session.UserID)

	_, err = storage.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
