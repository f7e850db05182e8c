package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okulab/termgate/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode keeps the write-through paths from blocking readers.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		shell TEXT NOT NULL,
		state TEXT NOT NULL,
		cols INTEGER NOT NULL,
		rows INTEGER NOT NULL,
		log_path TEXT,
		created_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);

	CREATE TABLE IF NOT EXISTS command_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		text TEXT NOT NULL,
		mode TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_session ON command_history(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSession inserts or replaces a session record.
func (s *SQLiteStore) SaveSession(ctx context.Context, info *domain.SessionInfo) error {
	query := `
		INSERT INTO sessions (session_id, name, shell, state, cols, rows, log_path, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			cols = excluded.cols,
			rows = excluded.rows,
			last_active_at = excluded.last_active_at`

	_, err := s.db.ExecContext(ctx, query,
		info.ID, info.Name, info.Shell, string(info.State),
		info.Cols, info.Rows, info.LogPath,
		info.CreatedAt.Unix(), info.LastActiveAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", info.ID, err)
	}
	return nil
}

// UpdateSessionState records a lifecycle transition.
func (s *SQLiteStore) UpdateSessionState(ctx context.Context, sessionID string, state domain.SessionState, at time.Time) error {
	query := `UPDATE sessions SET state = ?, last_active_at = ? WHERE session_id = ?`
	if _, err := s.db.ExecContext(ctx, query, string(state), at.Unix(), sessionID); err != nil {
		return fmt.Errorf("update session %s state: %w", sessionID, err)
	}
	return nil
}

// TouchSession updates the last-active timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET last_active_at = ? WHERE session_id = ?`
	if _, err := s.db.ExecContext(ctx, query, at.Unix(), sessionID); err != nil {
		return fmt.Errorf("touch session %s: %w", sessionID, err)
	}
	return nil
}

// AppendCommand appends one history entry for a session.
func (s *SQLiteStore) AppendCommand(ctx context.Context, sessionID string, entry domain.CommandEntry) error {
	query := `INSERT INTO command_history (session_id, text, mode, sent_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, sessionID, entry.Text, string(entry.Mode), entry.SentAt.Unix()); err != nil {
		return fmt.Errorf("append command for session %s: %w", sessionID, err)
	}
	return nil
}

// CommandHistory returns a session's history in send order.
func (s *SQLiteStore) CommandHistory(ctx context.Context, sessionID string) ([]domain.CommandEntry, error) {
	query := `SELECT text, mode, sent_at FROM command_history WHERE session_id = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var entries []domain.CommandEntry
	for rows.Next() {
		var entry domain.CommandEntry
		var mode string
		var sentAt int64
		if err := rows.Scan(&entry.Text, &mode, &sentAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.Mode = domain.InputMode(mode)
		entry.SentAt = time.Unix(sentAt, 0)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return entries, nil
}

// ListSessions returns all persisted session records.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.SessionInfo, error) {
	query := `
		SELECT session_id, name, shell, state, cols, rows, log_path, created_at, last_active_at
		FROM sessions ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var infos []*domain.SessionInfo
	for rows.Next() {
		var info domain.SessionInfo
		var state string
		var logPath sql.NullString
		var createdAt, lastActive int64
		if err := rows.Scan(&info.ID, &info.Name, &info.Shell, &state, &info.Cols, &info.Rows, &logPath, &createdAt, &lastActive); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		info.State = domain.SessionState(state)
		info.LogPath = logPath.String
		info.CreatedAt = time.Unix(createdAt, 0)
		info.LastActiveAt = time.Unix(lastActive, 0)
		infos = append(infos, &info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return infos, nil
}

// PruneSessions removes dead sessions and their history past retention.
func (s *SQLiteStore) PruneSessions(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()

	historyQuery := `
		DELETE FROM command_history WHERE session_id IN (
			SELECT session_id FROM sessions
			WHERE state IN ('terminated', 'failed') AND last_active_at < ?
		)`
	if _, err := s.db.ExecContext(ctx, historyQuery, cutoff); err != nil {
		return 0, fmt.Errorf("prune command history: %w", err)
	}

	sessionsQuery := `DELETE FROM sessions WHERE state IN ('terminated', 'failed') AND last_active_at < ?`
	res, err := s.db.ExecContext(ctx, sessionsQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
