package session

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"fetchrelay/internal/ledger"
	logx "fetchrelay/pkg/logx"
)

// SchedulerSettings are the hot-reloadable selection knobs.
type SchedulerSettings struct {
	DailyLimit  int
	CooldownMin time.Duration
	CooldownMax time.Duration
}

func (s SchedulerSettings) withDefaults() SchedulerSettings {
	if s.DailyLimit <= 0 {
		s.DailyLimit = 10
	}
	if s.CooldownMin <= 0 {
		s.CooldownMin = 30 * time.Second
	}
	if s.CooldownMax < s.CooldownMin {
		s.CooldownMax = s.CooldownMin
	}
	return s
}

// Scheduler picks a session for each job. All reconciliation and ranking
// happens under one selection lock so no job observes a partial pass. The
// selection lock is never held while waiting on a session's exclusive lock
// or on network I/O; candidates are claimed with TryLock and a busy session
// simply loses its turn.
type Scheduler struct {
	log logx.Logger
	reg *Registry
	ldg *ledger.Ledger

	// mu is the global selection lock.
	mu  sync.Mutex
	now func() time.Time

	cfgMu sync.Mutex
	cfg   SchedulerSettings

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewScheduler(reg *Registry, ldg *ledger.Ledger, cfg SchedulerSettings, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		log: log,
		reg: reg,
		ldg: ldg,
		now: time.Now,
		cfg: cfg.withDefaults(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetNow overrides the clock; used by tests.
func (s *Scheduler) SetNow(fn func() time.Time) { s.now = fn }

// Apply swaps the selection settings.
func (s *Scheduler) Apply(cfg SchedulerSettings) {
	s.cfgMu.Lock()
	s.cfg = cfg.withDefaults()
	s.cfgMu.Unlock()
}

func (s *Scheduler) settings() SchedulerSettings {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

// Acquire reconciles session statuses and returns the best eligible session
// locked for exclusive use, or (nil, false) when none qualifies.
func (s *Scheduler) Acquire() (*Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	today := ledger.DayKey(now)
	limit := s.settings().DailyLimit

	type candidate struct {
		id    string
		daily int
	}
	var candidates []candidate

	for _, info := range s.reg.Snapshot() {
		if now.Before(info.CooldownUntil) {
			continue
		}

		st := info.Status
		// Self-healing statuses revert lazily, right here.
		switch st.Kind {
		case KindFloodWait:
			if now.Before(st.Until) {
				continue
			}
			st = Ok()
			s.setStatus(info.ID, st)
		case KindDailyLimit:
			if st.Date == today {
				continue
			}
			st = Ok()
			s.setStatus(info.ID, st)
		}

		if st.Kind != KindOk {
			continue
		}
		if !info.Connected {
			s.setStatus(info.ID, ErrDisconnected())
			continue
		}

		daily := s.ldg.DailyUses(info.ID, today)
		if daily >= limit {
			s.setStatus(info.ID, DailyLimitReached(today))
			continue
		}
		candidates = append(candidates, candidate{id: info.ID, daily: daily})
	}

	// Least-used first; the id tie-break keeps selection deterministic
	// under equal load.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].daily != candidates[j].daily {
			return candidates[i].daily < candidates[j].daily
		}
		return candidates[i].id < candidates[j].id
	})

	for _, c := range candidates {
		sess, ok := s.reg.Get(c.id)
		if !ok {
			continue
		}
		// Another job may have invalidated the connection since the snapshot.
		if sess.conn == nil || !sess.conn.Connected() {
			s.setStatus(c.id, ErrDisconnected())
			continue
		}
		if !sess.mu.TryLock() {
			continue
		}
		s.log.Debug("session acquired", logx.String("session", sess.name), logx.Int("daily_uses", c.daily))
		return &Lease{sch: s, sess: sess}, true
	}
	return nil, false
}

func (s *Scheduler) setStatus(id string, st Status) {
	s.reg.SetStatus(id, st)
	if err := s.ldg.MirrorStatus(id, st.String()); err != nil {
		s.log.Warn("ledger status mirror failed", logx.String("session", id), logx.Err(err))
		return
	}
	// A sticky degradation is reported once; the ledger flag clears when the
	// session returns to ok, so a relapse reports again.
	if st.Sticky() && !s.ldg.Notified(id) {
		s.log.Warn("session degraded, needs operator attention",
			logx.String("session", id),
			logx.String("status", st.String()))
		if err := s.ldg.SetNotified(id, true); err != nil {
			s.log.Warn("ledger notify flag failed", logx.String("session", id), logx.Err(err))
		}
	}
}

// ApplyStatus records a status observed outside a selection pass (connect
// failures, conversation outcomes) on both registry and ledger.
func (s *Scheduler) ApplyStatus(id string, st Status) { s.setStatus(id, st) }

// RecordUse charges one successful conversation to the session and demotes
// it to DailyLimitReached once the day's budget is spent.
func (s *Scheduler) RecordUse(id string) error {
	n, err := s.ldg.RecordUse(id)
	if err != nil {
		return err
	}
	if n >= s.settings().DailyLimit {
		s.setStatus(id, DailyLimitReached(ledger.DayKey(s.now())))
	}
	return nil
}

func (s *Scheduler) cooldown() time.Duration {
	cfg := s.settings()
	span := cfg.CooldownMax - cfg.CooldownMin
	if span <= 0 {
		return cfg.CooldownMin
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return cfg.CooldownMin + time.Duration(s.rng.Int63n(int64(span)+1))
}

// Lease is one job's exclusive hold on a session.
type Lease struct {
	sch  *Scheduler
	sess *Session
	once sync.Once
}

func (l *Lease) Session() *Session { return l.sess }

// Release unlocks the session and applies the mandatory post-use cooldown,
// regardless of how the conversation went.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.sess.mu.Unlock()
		until := l.sch.now().Add(l.sch.cooldown())
		l.sch.reg.SetCooldown(l.sess.id, until)
		l.sch.log.Debug("session released",
			logx.String("session", l.sess.name),
			logx.Time("cooldown_until", until))
	})
}
