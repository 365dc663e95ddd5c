package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"fetchrelay/internal/job"
	"fetchrelay/internal/ledger"
	"fetchrelay/internal/session"
	logx "fetchrelay/pkg/logx"
)

// Config controls the HTTP API server.
//
// Security: set Key whenever Addr is reachable from outside the host; all
// job endpoints require the X-API-Key header when a key is configured.
type Config struct {
	Addr string
	Key  string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// JobService is the part of the orchestrator the API needs.
type JobService interface {
	Submit(ctx context.Context, req job.SubmitRequest) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, bool, error)
	SyncProcess(ctx context.Context, url string) (job.SyncResult, error)
}

// Server exposes the job API plus health and account statistics.
type Server struct {
	log  logx.Logger
	cfg  Config
	jobs JobService
	reg  *session.Registry
	ldg  *ledger.Ledger

	s3Configured bool
	now          func() time.Time

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, jobs JobService, reg *session.Registry, ldg *ledger.Ledger, s3Configured bool, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		log:          log,
		cfg:          cfg,
		jobs:         jobs,
		reg:          reg,
		ldg:          ldg,
		s3Configured: s3Configured,
		now:          time.Now,
	}
}

// Handler builds the route table. Exposed separately so tests can drive it
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs", s.withAuth(s.handleSubmit))
	mux.HandleFunc("GET /jobs/{id}", s.withAuth(s.handleJob))
	mux.HandleFunc("GET /retrieve", s.withAuth(s.handleRetrieve))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats/accounts", s.withAuth(s.handleStats))
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	if s.cfg.Key == "" && !isLoopbackAddr(addr) {
		s.log.Warn("api running without a key on a non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server exited", logx.Err(err))
		}
	}()
	s.log.Info("api started", logx.String("addr", ln.Addr().String()), logx.Bool("key_set", s.cfg.Key != ""))
	return nil
}

// Stop shuts the server down gracefully within ctx.
func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	_ = s.srv.Shutdown(ctx)
	_ = s.srv.Close()
}

func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Key == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.cfg.Key {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h(w, r)
	}
}

type submitRequest struct {
	URL         string            `json:"url"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	j, err := s.jobs.Submit(r.Context(), job.SubmitRequest{
		URL:         req.URL,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		if errors.Is(err, job.ErrMissingURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("submit failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	// An idempotent resubmission that matched an already finished job gets
	// the cached result, artifacts included, instead of another ticket.
	if j.State == job.StateCompleted {
		writeJSON(w, http.StatusOK, viewOf(j))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": j.ID,
		"status": j.State.String(),
	})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	j, ok, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.log.Error("job lookup failed", logx.String("job", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(j))
}

// handleRetrieve is the legacy synchronous path. It blocks for the whole
// pipeline and persists nothing; new clients should use POST /jobs.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Deprecation", "true")

	url := r.URL.Query().Get("url")
	res, err := s.jobs.SyncProcess(r.Context(), url)
	if err != nil {
		if errors.Is(err, job.ErrMissingURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"primary_artifact":   res.Primary,
		"secondary_artifact": res.Secondary,
	})
}

type sessionHealth struct {
	Status        string     `json:"status"`
	Connected     bool       `json:"connected"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	snap := s.reg.Snapshot()

	var ok, cooling, flood, daily int
	sessions := make(map[string]sessionHealth, len(snap))
	for _, info := range snap {
		switch info.Status.Kind {
		case session.KindOk:
			ok++
		case session.KindFloodWait:
			flood++
		case session.KindDailyLimit:
			daily++
		}
		sh := sessionHealth{Status: info.Status.String(), Connected: info.Connected}
		if info.CooldownUntil.After(now) {
			cooling++
			t := info.CooldownUntil
			sh.CooldownUntil = &t
		}
		sessions[info.Name] = sh
	}

	status := "ok"
	if ok == 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"sessions_total": len(snap),
		"sessions_ok":    ok,
		"in_cooldown":    cooling,
		"flood_wait":     flood,
		"daily_limited":  daily,
		"s3_configured":  s.s3Configured,
		"sessions":       sessions,
	})
}

type accountStats struct {
	Name         string    `json:"name"`
	TotalUses    int       `json:"total_uses"`
	UsesToday    int       `json:"uses_today"`
	LastActiveAt time.Time `json:"last_active_at"`
	Status       string    `json:"status"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	today := ledger.DayKey(s.now())
	recs := s.ldg.Snapshot()
	out := make([]accountStats, 0, len(recs))
	for _, rec := range recs {
		out = append(out, accountStats{
			Name:         rec.Name,
			TotalUses:    rec.TotalUses,
			UsesToday:    rec.Daily[today],
			LastActiveAt: rec.LastActiveAt,
			Status:       rec.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

// jobView renders the persisted record with string states for clients.
type jobView struct {
	ID            string            `json:"job_id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	Attempt       int               `json:"attempt,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Primary       *job.Artifact     `json:"primary_artifact,omitempty"`
	Secondary     *job.Artifact     `json:"secondary_artifact,omitempty"`
	ErrorKind     string            `json:"error_kind,omitempty"`
	ErrorDetail   string            `json:"error_detail,omitempty"`
	CallbackState string            `json:"callback_state,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

func viewOf(j *job.Job) jobView {
	return jobView{
		ID:            j.ID,
		URL:           j.OriginalURL,
		Status:        j.State.String(),
		Attempt:       j.Attempt,
		Metadata:      j.Metadata,
		Primary:       j.Primary,
		Secondary:     j.Secondary,
		ErrorKind:     string(j.ErrorKind),
		ErrorDetail:   j.ErrorDetail,
		CallbackState: j.CallbackState,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		CompletedAt:   j.CompletedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
