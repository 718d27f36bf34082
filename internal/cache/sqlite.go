package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createBlobTable = `CREATE TABLE IF NOT EXISTS blob_cache (
	key          TEXT PRIMARY KEY,
	stored_at    INTEGER NOT NULL,
	ttl          INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	data         BLOB
)`

// SQLiteStore is a durable Store backed by a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; modernc serializes anyway and this avoids SQLITE_BUSY on writes
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStore creates the blob_cache table when missing.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, createBlobTable); err != nil {
		return nil, fmt.Errorf("create blob_cache table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT stored_at, ttl, content_type, data FROM blob_cache WHERE key = ?`, key)

	var storedAt, ttl int64
	e := Entry{Key: key}
	err := row.Scan(&storedAt, &ttl, &e.Payload.ContentType, &e.Payload.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("sqlite get failed: %w", err)
	}
	e.StoredAt = time.Unix(0, storedAt)
	e.TTL = time.Duration(ttl)
	return e, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blob_cache (key, stored_at, ttl, content_type, data) VALUES (?, ?, ?, ?, ?)`,
		e.Key, e.StoredAt.UnixNano(), int64(e.TTL), e.Payload.ContentType, e.Payload.Data)
	if err != nil {
		return fmt.Errorf("sqlite set failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blob_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM blob_cache`)
	if err != nil {
		return nil, fmt.Errorf("sqlite keys failed: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite keys scan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Clear removes every row.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blob_cache`)
	return err
}
