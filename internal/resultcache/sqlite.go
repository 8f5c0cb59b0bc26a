package resultcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore is the local fallback tier: a single-file SQLite database with
// one writer connection (serialised writes) and a small reader pool.
type SQLiteStore struct {
	writer    *sql.DB
	reader    *sql.DB
	path      string
	closeOnce sync.Once
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	body       BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries (expires_at);
`

// OpenSQLite opens (creating if needed) the cache database at path, enables
// WAL mode, and ensures the schema exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("resultcache: create directory %s: %w", dir, err)
	}

	writerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, fmt.Errorf("resultcache: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("resultcache: ping writer: %w", err)
	}

	if _, err := writer.Exec(sqliteSchema); err != nil {
		writer.Close()
		return nil, fmt.Errorf("resultcache: create schema: %w", err)
	}

	readerDSN := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=query_only(ON)"
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("resultcache: open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(4)
	reader.SetConnMaxLifetime(0)

	if err := reader.Ping(); err != nil {
		writer.Close()
		reader.Close()
		return nil, fmt.Errorf("resultcache: ping reader: %w", err)
	}

	return &SQLiteStore{writer: writer, reader: reader, path: path}, nil
}

// Path returns the filesystem path of the database.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	var expiresAt int64
	err := s.reader.QueryRowContext(ctx,
		"SELECT body, expires_at FROM cache_entries WHERE key = ?", key,
	).Scan(&body, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resultcache: sqlite get: %w", err)
	}
	if time.Now().Unix() >= expiresAt {
		return nil, nil
	}
	return body, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).Unix()
	_, err := s.writer.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache_entries (key, body, expires_at) VALUES (?, ?, ?)",
		key, body, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("resultcache: sqlite set: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.writer.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE key = ?", key,
	); err != nil {
		return fmt.Errorf("resultcache: sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) error {
	if _, err := s.writer.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at < ?", time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("resultcache: sqlite delete expired: %w", err)
	}
	return nil
}

// Close closes both connections. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		if err := s.writer.Close(); err != nil {
			firstErr = err
		}
		if err := s.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}
