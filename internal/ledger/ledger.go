package ledger

import (
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

const docVersion = 1

// DayKey returns the UTC calendar-day key used for daily counters.
func DayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Record holds durable usage counters for one automation account.
type Record struct {
	SessionID     string         `json:"session_id"`
	Name          string         `json:"name"`
	TotalUses     int            `json:"total_uses"`
	LastActiveAt  time.Time      `json:"last_active_at"`
	Daily         map[string]int `json:"daily_uses"`
	Status        string         `json:"status"`
	NotifiedError bool           `json:"notified_error"`
}

type document struct {
	Version int                `json:"version"`
	Records map[string]*Record `json:"records"`
}

// Ledger is the usage ledger. All mutation is read-modify-write under one
// lock and persisted atomically before the call returns.
type Ledger struct {
	log  logx.Logger
	path string
	now  func() time.Time

	mu   sync.Mutex
	recs map[string]*Record
}

// Open loads the ledger from path. A corrupted document is quarantined
// (renamed aside) and treated as empty.
func Open(path string, log logx.Logger) (*Ledger, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Ledger{log: log, path: path, now: time.Now, recs: map[string]*Record{}}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, err
	}

	var doc document
	if uerr := json.Unmarshal(b, &doc); uerr != nil || doc.Version > docVersion {
		quarantined := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixMilli())
		if rerr := os.Rename(path, quarantined); rerr != nil {
			return nil, fmt.Errorf("quarantine corrupt ledger: %w", rerr)
		}
		l.log.Warn("ledger file corrupt; quarantined and starting empty",
			logx.String("path", path), logx.String("quarantined", quarantined), logx.Any("err", uerr))
		return l, nil
	}
	if doc.Records != nil {
		l.recs = doc.Records
	}
	for id, r := range l.recs {
		if r.Daily == nil {
			r.Daily = map[string]int{}
		}
		r.SessionID = id
	}
	return l, nil
}

// SetNow overrides the clock; used by tests.
func (l *Ledger) SetNow(fn func() time.Time) { l.now = fn }

// Ensure registers an account record if absent and refreshes its name.
func (l *Ledger) Ensure(id, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.recs[id]
	if !ok {
		r = &Record{SessionID: id, Status: "ok", Daily: map[string]int{}}
		l.recs[id] = r
	}
	r.Name = name
	return l.saveLocked()
}

// RecordUse increments lifetime and today's counters and returns the new
// daily count.
func (l *Ledger) RecordUse(id string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.recs[id]
	if !ok {
		return 0, fmt.Errorf("ledger: unknown session %q", id)
	}
	now := l.now()
	day := DayKey(now)
	r.TotalUses++
	r.Daily[day]++
	r.LastActiveAt = now
	return r.Daily[day], l.saveLocked()
}

// MirrorStatus records the session's current status for observability.
// Returning to "ok" clears the notified-error flag.
func (l *Ledger) MirrorStatus(id, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.recs[id]
	if !ok {
		return fmt.Errorf("ledger: unknown session %q", id)
	}
	r.Status = status
	if status == "ok" {
		r.NotifiedError = false
	}
	return l.saveLocked()
}

// Notified reports whether the account's current error status was already
// reported.
func (l *Ledger) Notified(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.recs[id]; ok {
		return r.NotifiedError
	}
	return false
}

// SetNotified marks that the account's error status has been reported.
func (l *Ledger) SetNotified(id string, v bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.recs[id]
	if !ok {
		return fmt.Errorf("ledger: unknown session %q", id)
	}
	r.NotifiedError = v
	return l.saveLocked()
}

// DailyUses returns the counter for the given UTC day key.
func (l *Ledger) DailyUses(id, day string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.recs[id]; ok {
		return r.Daily[day]
	}
	return 0
}

// Snapshot returns a deep copy of all records sorted by session id.
func (l *Ledger) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, len(l.recs))
	for _, r := range l.recs {
		cp := *r
		cp.Daily = make(map[string]int, len(r.Daily))
		for k, v := range r.Daily {
			cp.Daily[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (l *Ledger) saveLocked() error {
	doc := document{Version: docVersion, Records: l.recs}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
