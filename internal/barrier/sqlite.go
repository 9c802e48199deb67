package barrier

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteKV is a KV backend over a single-file SQLite database. Use path
// ":memory:" for tests.
type SQLiteKV struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteKV opens (creating if needed) the database at path and prepares
// the kv table.
func NewSQLiteKV(path string) (*SQLiteKV, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		expires_at INTEGER
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}

	return &SQLiteKV{db: db, now: time.Now}, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttl).Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("setting key: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting key: %w", err)
	}
	if expiresAt.Valid && s.now().Unix() >= expiresAt.Int64 {
		// Lazy expiry: drop the stale row on read.
		if _, derr := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); derr == nil {
			return nil, ErrNotFound
		}
		return nil, ErrNotFound
	}
	return value, nil
}

// PurgeExpired removes every expired row and returns the count.
func (s *SQLiteKV) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purging expired keys: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteKV) Close() error { return s.db.Close() }
