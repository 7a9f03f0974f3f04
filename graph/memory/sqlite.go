package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a single-file durable Memory implementation, suitable for a
// single-process deployment that wants conversation history to survive a
// restart. Schema is unrelated to any run-level checkpoint format — it
// only ever holds conversation turns and scoped context values.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) a SQLite-backed memory store at path.
// Pass ":memory:" for an ephemeral database useful in tests.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("memory: %s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_history_user ON memory_history(user_id, id)`,
		`CREATE TABLE IF NOT EXISTS memory_context (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			expires_at TIMESTAMP,
			PRIMARY KEY (user_id, key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("memory: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Append(ctx context.Context, userID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_history (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("memory: append: %w", err)
	}
	return nil
}

func (s *SQLite) Recent(ctx context.Context, userID string, n int) ([]Entry, error) {
	query := `SELECT role, content, created_at FROM memory_history WHERE user_id = ? ORDER BY id DESC`
	args := []any{userID}
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reversed []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Role, &e.Content, &e.Ts); err != nil {
			return nil, fmt.Errorf("memory: recent scan: %w", err)
		}
		reversed = append(reversed, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory: recent: %w", err)
	}

	out := make([]Entry, len(reversed))
	for i, e := range reversed {
		out[len(reversed)-1-i] = e
	}
	return out, nil
}

func (s *SQLite) CtxSet(ctx context.Context, userID, key string, value any, ttl time.Duration) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory: ctx_set marshal: %w", err)
	}

	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_context (user_id, key, value, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		userID, key, string(encoded), expiresAt)
	if err != nil {
		return fmt.Errorf("memory: ctx_set: %w", err)
	}
	return nil
}

func (s *SQLite) CtxGet(ctx context.Context, userID, key string) (any, error) {
	var (
		raw       string
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM memory_context WHERE user_id = ? AND key = ?`,
		userID, key).Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory: ctx_get: %w", err)
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return nil, ErrNotFound
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("memory: ctx_get unmarshal: %w", err)
	}
	return value, nil
}

// Close releases the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
