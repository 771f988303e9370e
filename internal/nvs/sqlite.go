package nvs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a single table keyed by (namespace, key).
// Staged writes are held in memory and flushed in one transaction by Commit.
type SQLiteStore struct {
	db        *sql.DB
	namespace string

	mu      sync.Mutex
	pending map[string]int32
}

// NewSQLiteStore opens or creates the database at dbPath.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath, namespace string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:        db,
		namespace: namespace,
		pending:   make(map[string]int32),
	}

	if err := s.initialize(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = FULL;
	CREATE TABLE IF NOT EXISTS nvs (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value,
		PRIMARY KEY (namespace, key)
	);
	`
	_, err := s.db.Exec(schema)

	return err
}

// GetInt implements Store.
func (s *SQLiteStore) GetInt(ctx context.Context, key string) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.pending[key]; ok {
		return v, nil
	}

	var (
		kind  string
		value int64
	)

	err := s.db.QueryRowContext(ctx,
		"SELECT typeof(value), CASE WHEN typeof(value) = 'integer' THEN value ELSE 0 END FROM nvs WHERE namespace = ? AND key = ?",
		s.namespace, key,
	).Scan(&kind, &value)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrNotFound
	case err != nil:
		return 0, fmt.Errorf("query record %s: %w", key, err)
	}

	if kind != "integer" {
		return 0, fmt.Errorf("%w: %s holds %s", ErrCorrupt, key, kind)
	}

	if value < -1<<31 || value > 1<<31-1 {
		return 0, fmt.Errorf("%w: %s out of range: %d", ErrCorrupt, key, value)
	}

	return int32(value), nil
}

// SetInt implements Store.
func (s *SQLiteStore) SetInt(ctx context.Context, key string, value int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[key] = value

	return nil
}

// Commit implements Store.
func (s *SQLiteStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}

	for k, v := range s.pending {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO nvs (namespace, key, value) VALUES (?, ?, ?) ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value",
			s.namespace, k, int64(v),
		)
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("write record %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}

	clear(s.pending)

	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.pending)

	return s.db.Close()
}
