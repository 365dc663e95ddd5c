//go:build sqlite
// +build sqlite

package job

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	logx "fetchrelay/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLiteStore(cfg StoreConfig, log logx.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("jobs.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, j *Job) error {
	doc, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, idem_key, url, state, created_at, doc) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET state=excluded.state, doc=excluded.doc`,
		j.ID, j.IdemKey, j.OriginalURL, j.State.String(), j.CreatedAt.Format(time.RFC3339Nano), string(doc),
	)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*Job, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM jobs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	j, err := decodeJob(doc)
	if err != nil {
		return nil, false, err
	}
	return j, true, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		j, err := decodeJob(doc)
		if err != nil {
			// One bad row must not hide the rest; skip and report.
			s.log.Warn("job row undecodable; skipping", logx.Err(err))
			continue
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindByIdemKey(ctx context.Context, key, url string) (*Job, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM jobs WHERE idem_key = ? AND url = ? ORDER BY created_at DESC LIMIT 1`,
		key, url,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	j, err := decodeJob(doc)
	if err != nil {
		return nil, false, err
	}
	return j, true, nil
}

func decodeJob(doc string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(doc), &j); err != nil {
		return nil, err
	}
	return &j, nil
}
