package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logx "fetchrelay/pkg/logx"
)

func fastSettings() Settings {
	return Settings{
		RetryDelays:    []time.Duration{5 * time.Millisecond, 10 * time.Millisecond},
		MaxAttempts:    4,
		ProgressPerSec: 100,
		RequestTimeout: time.Second,
	}
}

func TestDeliverSucceedsAfterRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if body["job_id"] != "j1" {
			t.Errorf("payload = %v", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(fastSettings(), logx.Nop())
	got := s.Deliver(context.Background(), srv.URL, map[string]string{"job_id": "j1"})
	if got != OutcomeSent {
		t.Fatalf("outcome = %s, want sent", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestDeliverExhaustsAttempts(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSender(fastSettings(), logx.Nop())
	got := s.Deliver(context.Background(), srv.URL, map[string]string{"job_id": "j1"})
	if got != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed_after_retries", got)
	}
	if calls.Load() != 4 {
		t.Fatalf("calls = %d, want max attempts", calls.Load())
	}
}

func TestDeliverWithoutURL(t *testing.T) {
	t.Parallel()
	s := NewSender(fastSettings(), logx.Nop())
	if got := s.Deliver(context.Background(), "", nil); got != OutcomeNotConfigured {
		t.Fatalf("outcome = %s, want not_configured", got)
	}
}

func TestDeliverStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastSettings()
	cfg.RetryDelays = []time.Duration{time.Hour}
	s := NewSender(cfg, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- s.Deliver(ctx, srv.URL, nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case got := <-done:
		if got != OutcomeFailed {
			t.Fatalf("outcome = %s, want failed_after_retries", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver did not return after cancel")
	}
}

func TestDelaysClampToLastEntry(t *testing.T) {
	t.Parallel()
	cfg := Settings{
		RetryDelays:    []time.Duration{time.Millisecond},
		MaxAttempts:    5,
		ProgressPerSec: 1,
		RequestTimeout: time.Second,
	}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSender(cfg, logx.Nop())
	start := time.Now()
	if got := s.Deliver(context.Background(), srv.URL, nil); got != OutcomeFailed {
		t.Fatalf("outcome = %s", got)
	}
	// Four waits of the single clamped entry; generous upper bound for CI.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("took %v, schedule clamping seems broken", elapsed)
	}
	if calls.Load() != 5 {
		t.Fatalf("calls = %d, want 5", calls.Load())
	}
}

func TestNotifyBestEffort(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSender(fastSettings(), logx.Nop())
	// Must not retry and must not panic on failure.
	s.Notify(context.Background(), srv.URL, map[string]string{"status": "started"})
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want exactly 1", calls.Load())
	}
	s.Notify(context.Background(), "", nil) // no-op
}
