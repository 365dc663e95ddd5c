package job

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "fetchrelay/pkg/logx"
)

// Store is the persistence API for job records.
type Store interface {
	// Put inserts or fully replaces the record.
	Put(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, bool, error)
	// List returns all records, newest first.
	List(ctx context.Context) ([]*Job, error)
	// FindByIdemKey returns the most recent record matching (key, url).
	FindByIdemKey(ctx context.Context, key, url string) (*Job, bool, error)
	Close() error
}

// StoreConfig configures the job store.
//
// Driver values:
//   - "file": dependency-free JSON document backend
//   - "sqlite": SQLite database file (optional build tag)
//
// An empty driver defaults to "file".
type StoreConfig struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OpenStore initializes the configured store.
func OpenStore(cfg StoreConfig, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFileStore(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLiteStore(cfg, log)
	default:
		return nil, errors.New("unknown jobs driver: " + driver)
	}
}
