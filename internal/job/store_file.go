package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	logx "fetchrelay/pkg/logx"
)

const fileDocVersion = 1

type fileDocument struct {
	Version int             `json:"version"`
	Jobs    map[string]*Job `json:"jobs"`
}

// fileStore keeps all records in memory and rewrites one JSON document
// atomically (write-to-temp then rename) on every mutation. Fine for the
// job volumes one provider pool can generate; sqlite covers the rest.
type fileStore struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	jobs map[string]*Job
}

func openFileStore(cfg StoreConfig, log logx.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, errors.New("jobs.path is required for file driver")
	}
	if filepath.Ext(path) == "" {
		path = filepath.Join(path, "jobs.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, jobs: map[string]*Job{}}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var doc fileDocument
	if uerr := json.Unmarshal(b, &doc); uerr != nil || doc.Version > fileDocVersion {
		quarantined := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixMilli())
		if rerr := os.Rename(path, quarantined); rerr != nil {
			return nil, fmt.Errorf("quarantine corrupt job store: %w", rerr)
		}
		log.Warn("job store corrupt; quarantined and starting empty",
			logx.String("path", path), logx.String("quarantined", quarantined), logx.Any("err", uerr))
		return s, nil
	}
	if doc.Jobs != nil {
		s.jobs = doc.Jobs
	}
	return s, nil
}

func (s *fileStore) Put(ctx context.Context, j *Job) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j.Clone()
	return s.saveLocked()
}

func (s *fileStore) Get(ctx context.Context, id string) (*Job, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return j.Clone(), true, nil
}

func (s *fileStore) List(ctx context.Context) ([]*Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (s *fileStore) FindByIdemKey(ctx context.Context, key, url string) (*Job, bool, error) {
	_ = ctx
	if key == "" {
		return nil, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Job
	for _, j := range s.jobs {
		if j.IdemKey != key || j.OriginalURL != url {
			continue
		}
		if best == nil || j.CreatedAt.After(best.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, false, nil
	}
	return best.Clone(), true, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) saveLocked() error {
	doc := fileDocument{Version: fileDocVersion, Jobs: s.jobs}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
