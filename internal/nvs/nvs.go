// Package nvs provides non-volatile integer records with explicit commit,
// modelled on a flash key-value store: writes are staged by SetInt and only
// become durable when Commit returns.
//
// Backends: MemoryStore (tests, volatile), FileStore (YAML record file) and
// SQLiteStore (modernc.org/sqlite).
package nvs

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweeney/lamp-panel/internal/config"
)

var (
	// ErrNotFound is returned by GetInt when the key has never been written.
	ErrNotFound = errors.New("nvs: record not found")
	// ErrCorrupt is returned by GetInt when the stored value cannot be read as an integer.
	ErrCorrupt = errors.New("nvs: record corrupt")
)

// Store reads and writes named integer records.
type Store interface {
	// GetInt returns the staged value for key if one exists, otherwise the
	// committed value.
	GetInt(ctx context.Context, key string) (int32, error)

	// SetInt stages value for key. It is not durable until Commit.
	SetInt(ctx context.Context, key string, value int32) error

	// Commit makes every staged write durable, all or nothing.
	Commit(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Open returns the backend selected by cfg.
func Open(cfg config.Store) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendFile, "":
		return NewFileStore(cfg.Path, cfg.Namespace)
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.Path, cfg.Namespace)
	default:
		return nil, fmt.Errorf("nvs: unknown backend %q", cfg.Backend)
	}
}
