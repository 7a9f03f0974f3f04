package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQL is a MySQL/MariaDB-backed Memory implementation for deployments
// that already run a relational database and want conversation history
// shared across multiple worker processes.
//
// DSN format: [username[:password]@][protocol[(address)]]/dbname[?params].
type MySQL struct {
	db *sql.DB
}

// NewMySQL opens a connection pool and migrates the schema if needed.
func NewMySQL(dsn string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: ping mysql: %w", err)
	}

	m := &MySQL{db: db}
	if err := m.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *MySQL) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_history (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			role VARCHAR(32) NOT NULL,
			content MEDIUMTEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_memory_history_user (user_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_context (
			user_id VARCHAR(255) NOT NULL,
			ctx_key VARCHAR(255) NOT NULL,
			value MEDIUMTEXT NOT NULL,
			expires_at DATETIME(6) NULL,
			PRIMARY KEY (user_id, ctx_key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("memory: migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQL) Append(ctx context.Context, userID, role, content string) error {
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO memory_history (user_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		userID, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("memory: append: %w", err)
	}
	return nil
}

func (m *MySQL) Recent(ctx context.Context, userID string, n int) ([]Entry, error) {
	query := `SELECT role, content, created_at FROM memory_history WHERE user_id = ? ORDER BY id DESC`
	args := []any{userID}
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
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

func (m *MySQL) CtxSet(ctx context.Context, userID, key string, value any, ttl time.Duration) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory: ctx_set marshal: %w", err)
	}

	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UTC()
	}

	_, err = m.db.ExecContext(ctx,
		`INSERT INTO memory_context (user_id, ctx_key, value, expires_at) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE value = VALUES(value), expires_at = VALUES(expires_at)`,
		userID, key, string(encoded), expiresAt)
	if err != nil {
		return fmt.Errorf("memory: ctx_set: %w", err)
	}
	return nil
}

func (m *MySQL) CtxGet(ctx context.Context, userID, key string) (any, error) {
	var (
		raw       string
		expiresAt sql.NullTime
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM memory_context WHERE user_id = ? AND ctx_key = ?`,
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

// Close releases the underlying connection pool.
func (m *MySQL) Close() error {
	return m.db.Close()
}
