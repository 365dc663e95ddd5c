package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "fetchrelay/pkg/logx"
)

// Outcome is the recorded result of final callback delivery.
type Outcome string

const (
	OutcomeSent          Outcome = "sent"
	OutcomeFailed        Outcome = "failed_after_retries"
	OutcomeNotConfigured Outcome = "not_configured"
)

// Settings controls delivery pacing. Delays are consumed in order; attempts
// past the end of the schedule reuse the last entry.
type Settings struct {
	RetryDelays    []time.Duration
	MaxAttempts    int
	ProgressPerSec int
	RequestTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if len(s.RetryDelays) == 0 {
		s.RetryDelays = []time.Duration{
			60 * time.Second,
			300 * time.Second,
			900 * time.Second,
			1800 * time.Second,
			3600 * time.Second,
			10800 * time.Second,
		}
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 6
	}
	if s.ProgressPerSec <= 0 {
		s.ProgressPerSec = 5
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 15 * time.Second
	}
	return s
}

// Sender posts callback payloads. Final results are retried on the fixed
// delay schedule; progress notifications are best-effort and rate-limited.
type Sender struct {
	log  logx.Logger
	http *http.Client

	mu      sync.Mutex
	cfg     Settings
	limiter *rate.Limiter
}

func NewSender(cfg Settings, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Sender{
		log:     log,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.ProgressPerSec), cfg.ProgressPerSec),
	}
}

// Apply swaps delivery settings at runtime.
func (s *Sender) Apply(cfg Settings) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.ProgressPerSec), cfg.ProgressPerSec)
	s.mu.Unlock()
}

func (s *Sender) settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Deliver posts payload to url until a 2xx response or the attempt budget is
// spent. It blocks through the delay schedule; callers run it off the job's
// processing path.
func (s *Sender) Deliver(ctx context.Context, url string, payload any) Outcome {
	if url == "" {
		return OutcomeNotConfigured
	}
	cfg := s.settings()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := s.post(ctx, url, payload)
		if err == nil {
			s.log.Info("callback delivered", logx.String("url", url), logx.Int("attempt", attempt))
			return OutcomeSent
		}
		s.log.Warn("callback attempt failed",
			logx.String("url", url),
			logx.Int("attempt", attempt),
			logx.Int("max_attempts", cfg.MaxAttempts),
			logx.Err(err))
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.RetryDelays[min(attempt-1, len(cfg.RetryDelays)-1)]
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return OutcomeFailed
		case <-tmr.C:
		}
	}
	return OutcomeFailed
}

// Notify posts a progress payload once, best-effort. Failures are logged
// and never retried; a busy limiter drops the notification.
func (s *Sender) Notify(ctx context.Context, url string, payload any) {
	if url == "" {
		return
	}
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	if !lim.Allow() {
		s.log.Debug("progress notification dropped (rate limited)", logx.String("url", url))
		return
	}
	if err := s.post(ctx, url, payload); err != nil {
		s.log.Debug("progress notification failed", logx.String("url", url), logx.Err(err))
	}
}

func (s *Sender) post(ctx context.Context, url string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// StatusError reports a non-2xx callback response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return "callback returned status " + strconv.Itoa(e.Code)
}
