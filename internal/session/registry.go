package session

import (
	"sync"
	"time"

	"fetchrelay/internal/provider"
	logx "fetchrelay/pkg/logx"
)

// Session is one automation account: its credential (which doubles as the
// identity), live connection, and rate-limit state. Jobs borrow a Session
// under its exclusive lock; all other state is guarded by the Registry.
type Session struct {
	id   string
	name string

	// mu is the exclusive use lock; at most one job holds it at a time.
	mu sync.Mutex

	conn          provider.Conn
	status        Status
	cooldownUntil time.Time
}

func (s *Session) ID() string          { return s.id }
func (s *Session) Name() string        { return s.name }
func (s *Session) Conn() provider.Conn { return s.conn }

// Info is a point-in-time copy of one session's observable state.
type Info struct {
	ID            string
	Name          string
	Status        Status
	CooldownUntil time.Time
	Connected     bool
}

// Registry owns all sessions and their mutable state. It replaces scattered
// per-concern maps with one object so the lock discipline stays visible.
type Registry struct {
	log logx.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{log: log, sessions: map[string]*Session{}}
}

// Add registers a session. The connection may be nil when the account failed
// to connect at startup; such sessions carry a sticky error status.
func (r *Registry) Add(id, name string, conn provider.Conn, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return
	}
	r.sessions[id] = &Session{id: id, name: name, conn: conn, status: st}
	r.order = append(r.order, id)
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Status returns the session's current status.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Status{}, false
	}
	return s.status, true
}

// SetStatus updates the session status. Sticky statuses are only reported
// once at warn level to avoid log spam on repeated selection passes.
func (r *Registry) SetStatus(id string, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	prev := s.status
	s.status = st
	if prev.Kind != st.Kind {
		if st.Sticky() {
			r.log.Warn("session degraded",
				logx.String("session", s.name),
				logx.String("from", prev.String()),
				logx.String("to", st.String()))
		} else {
			r.log.Debug("session status changed",
				logx.String("session", s.name),
				logx.String("from", prev.String()),
				logx.String("to", st.String()))
		}
	}
}

// SetCooldown sets the session's post-use idle deadline.
func (r *Registry) SetCooldown(id string, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.cooldownUntil = until
	}
}

// Snapshot copies observable state for health reporting. It takes the
// registry lock briefly and never touches session exclusive locks, so it is
// safe to call from request handlers.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		connected := s.conn != nil && s.conn.Connected()
		out = append(out, Info{
			ID:            s.id,
			Name:          s.name,
			Status:        s.status,
			CooldownUntil: s.cooldownUntil,
			Connected:     connected,
		})
	}
	return out
}

// CloseAll disconnects every session. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.conn != nil {
			_ = s.conn.Close()
		}
	}
}
