package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fetchrelay/internal/artifact"
	"fetchrelay/internal/ledger"
	"fetchrelay/internal/provider"
	"fetchrelay/internal/session"
	"fetchrelay/internal/webhook"
	logx "fetchrelay/pkg/logx"
)

type testConn struct {
	connected bool
}

func (c *testConn) Connected() bool                                    { return c.connected }
func (c *testConn) SendText(ctx context.Context, text string) error    { return nil }
func (c *testConn) Click(ctx context.Context, b provider.Button) error { return nil }
func (c *testConn) Next(ctx context.Context) (provider.Message, error) {
	<-ctx.Done()
	return provider.Message{}, ctx.Err()
}
func (c *testConn) Close() error { return nil }

type stubRunner struct {
	mu    sync.Mutex
	res   provider.Result
	err   error
	calls int
}

func (r *stubRunner) Run(ctx context.Context, conn provider.Conn, url string) (provider.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.res, r.err
}

type stubFetcher struct {
	mu     sync.Mutex
	dir    string
	err    error
	failOn int // 1-based call index that fails; 0 never
	calls  int
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (artifact.Local, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil || (f.failOn > 0 && f.calls == f.failOn) {
		err := f.err
		if err == nil {
			err = errors.New("download refused")
		}
		return artifact.Local{}, err
	}
	path := filepath.Join(f.dir, fmt.Sprintf("artifact-%d", f.calls))
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		return artifact.Local{}, err
	}
	return artifact.Local{Path: path, Name: "file.bin", Size: 4}, nil
}

type stubPublisher struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *stubPublisher) Publish(ctx context.Context, local artifact.Local) (artifact.Object, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return artifact.Object{}, p.err
	}
	return artifact.Object{
		Key:  "jobs/" + local.Name,
		URL:  "https://files.example/jobs/" + local.Name,
		Name: local.Name,
		Size: local.Size,
	}, nil
}

type stubDeliverer struct {
	mu        sync.Mutex
	outcome   webhook.Outcome
	delivered []finalPayload
	notified  []progressPayload
}

func (d *stubDeliverer) Deliver(ctx context.Context, url string, payload any) webhook.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, payload.(finalPayload))
	if d.outcome == "" {
		return webhook.OutcomeSent
	}
	return d.outcome
}

func (d *stubDeliverer) Notify(ctx context.Context, url string, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notified = append(d.notified, payload.(progressPayload))
}

func (d *stubDeliverer) deliveries() []finalPayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]finalPayload(nil), d.delivered...)
}

func (d *stubDeliverer) notifications() []progressPayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]progressPayload(nil), d.notified...)
}

type orchFixture struct {
	now    time.Time
	reg    *session.Registry
	ldg    *ledger.Ledger
	sch    *session.Scheduler
	store  Store
	runner *stubRunner
	fetch  *stubFetcher
	pub    *stubPublisher
	hooks  *stubDeliverer
	orc    *Orchestrator
}

func newOrchFixture(t *testing.T, cfg Settings) *orchFixture {
	t.Helper()
	dir := t.TempDir()
	ldg, err := ledger.Open(filepath.Join(dir, "ledger.json"), logx.Nop())
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	f := &orchFixture{
		now:    time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		reg:    session.NewRegistry(logx.Nop()),
		ldg:    ldg,
		runner: &stubRunner{res: provider.Result{PrimaryURL: "https://cdn.example/main.bin"}},
		fetch:  &stubFetcher{dir: dir},
		pub:    &stubPublisher{},
		hooks:  &stubDeliverer{},
	}
	f.sch = session.NewScheduler(f.reg, f.ldg, session.SchedulerSettings{
		DailyLimit:  2,
		CooldownMin: time.Minute,
		CooldownMax: time.Minute,
	}, logx.Nop())
	clock := func() time.Time { return f.now }
	f.sch.SetNow(clock)
	f.ldg.SetNow(clock)

	f.store = openTestStore(t, dir)
	f.orc = NewOrchestrator(f.store, f.sch, f.runner, f.fetch, f.pub, f.hooks, cfg, logx.Nop())
	f.orc.SetNow(clock)
	return f
}

func (f *orchFixture) addSession(t *testing.T, id, name string) {
	t.Helper()
	f.reg.Add(id, name, &testConn{connected: true}, session.Ok())
	if err := f.ldg.Ensure(id, name); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
}

func (f *orchFixture) mustGet(t *testing.T, id string) *Job {
	t.Helper()
	j, ok, err := f.store.Get(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("Get(%s): ok=%v err=%v", id, ok, err)
	}
	return j
}

func TestProcessCompletesJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	f.addSession(t, "sess-a", "alpha")
	f.runner.res = provider.Result{
		PrimaryURL:   "https://cdn.example/main.bin",
		SecondaryURL: "https://cdn.example/extra.bin",
	}

	j, err := f.orc.Submit(ctx, SubmitRequest{
		URL:         "https://example.com/page",
		CallbackURL: "https://client.example/hook",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.orc.process(ctx, j.ID)
	f.orc.cbWg.Wait()

	got := f.mustGet(t, j.ID)
	if got.State != StateCompleted {
		t.Fatalf("state = %v, want completed", got.State)
	}
	if got.Primary == nil || got.Primary.URL == "" || got.Primary.RemoteKey == "" {
		t.Fatalf("primary artifact = %+v", got.Primary)
	}
	if got.Secondary == nil {
		t.Fatal("secondary artifact missing")
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
	if got.CallbackState != string(webhook.OutcomeSent) {
		t.Fatalf("callback state = %q, want sent", got.CallbackState)
	}

	if uses := f.ldg.DailyUses("sess-a", ledger.DayKey(f.now)); uses != 1 {
		t.Fatalf("daily uses = %d, want 1", uses)
	}

	dels := f.hooks.deliveries()
	if len(dels) != 1 || dels[0].Status != "completed" || dels[0].JobID != j.ID {
		t.Fatalf("deliveries = %+v", dels)
	}
	if len(f.hooks.notifications()) == 0 {
		t.Fatal("expected progress notifications")
	}
}

func TestSubmitRequiresURL(t *testing.T) {
	t.Parallel()
	f := newOrchFixture(t, Settings{})
	if _, err := f.orc.Submit(context.Background(), SubmitRequest{}); !errors.Is(err, ErrMissingURL) {
		t.Fatalf("err = %v, want ErrMissingURL", err)
	}
}

func TestSubmitJoinsInFlightDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	meta := map[string]string{MetadataIdemKey: "req-1"}

	first, err := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a", Metadata: meta})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a", Metadata: meta})
	if err != nil {
		t.Fatalf("Submit duplicate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate got new job %s, want %s", second.ID, first.ID)
	}

	// Same key, different URL is a different request.
	third, err := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/b", Metadata: meta})
	if err != nil {
		t.Fatalf("Submit other url: %v", err)
	}
	if third.ID == first.ID {
		t.Fatal("different URL must not join the duplicate")
	}
}

func TestSubmitReturnsCachedCompleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	f.addSession(t, "sess-a", "alpha")
	meta := map[string]string{MetadataIdemKey: "req-1"}

	first, err := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a", Metadata: meta})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.orc.process(ctx, first.ID)
	f.orc.cbWg.Wait()

	again, err := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a", Metadata: meta})
	if err != nil {
		t.Fatalf("Submit cached: %v", err)
	}
	if again.ID != first.ID || again.State != StateCompleted {
		t.Fatalf("got %s/%v, want cached completed %s", again.ID, again.State, first.ID)
	}
}

func TestSubmitRetriesAfterFailedDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	f.addSession(t, "sess-a", "alpha")
	f.runner.err = &provider.Failure{Kind: provider.FailMainURLMissing}
	meta := map[string]string{MetadataIdemKey: "req-1"}

	first, err := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a", Metadata: meta})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.orc.process(ctx, first.ID)
	f.orc.cbWg.Wait()
	if got := f.mustGet(t, first.ID); got.State != StateFailed {
		t.Fatalf("state = %v, want failed", got.State)
	}

	fresh, err := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a", Metadata: meta})
	if err != nil {
		t.Fatalf("Submit retry: %v", err)
	}
	if fresh.ID == first.ID {
		t.Fatal("failed duplicate must start a fresh job")
	}
}

func TestSubmitConcurrentSameKeyYieldsOneJob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	meta := map[string]string{MetadataIdemKey: "req-1"}

	const racers = 16
	ids := make([]string, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j, err := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a", Metadata: meta})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			ids[i] = j.ID
		}(i)
	}
	wg.Wait()

	for i, id := range ids {
		if id != ids[0] {
			t.Fatalf("ids[%d] = %s, want %s for every racer", i, id, ids[0])
		}
	}
	jobs, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("persisted %d jobs, want 1", len(jobs))
	}
}

func TestNoWorkerRetriesThenFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{AcquireRetries: 2, AcquireRetryDelay: time.Second})
	// No sessions registered at all.

	j, err := f.orc.Submit(ctx, SubmitRequest{
		URL:         "https://example.com/a",
		CallbackURL: "https://client.example/hook",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f.orc.process(ctx, j.ID)
	got := f.mustGet(t, j.ID)
	if got.State != StateWaitingForWorker || got.Attempt != 1 {
		t.Fatalf("state=%v attempt=%d, want waiting attempt 1", got.State, got.Attempt)
	}
	// The submission entry is still queued; the retry joins it with a delay.
	f.orc.qmu.Lock()
	queued := f.orc.queue.Len()
	_, readyNow := f.orc.queue.PopReady(f.now)
	f.orc.qmu.Unlock()
	if queued != 2 || !readyNow {
		t.Fatalf("queue length = %d (ready now: %v), want submit entry plus delayed retry", queued, readyNow)
	}

	f.now = f.now.Add(2 * time.Second)
	f.orc.process(ctx, j.ID)
	f.orc.cbWg.Wait()
	got = f.mustGet(t, j.ID)
	if got.State != StateFailed || got.ErrorKind != FailNoWorkerAvailable {
		t.Fatalf("state=%v kind=%v, want failed no_worker_available", got.State, got.ErrorKind)
	}

	dels := f.hooks.deliveries()
	if len(dels) != 1 || dels[0].ErrorKind != string(FailNoWorkerAvailable) {
		t.Fatalf("deliveries = %+v", dels)
	}
	notes := f.hooks.notifications()
	if len(notes) == 0 || notes[0].Status != "waiting_for_worker" {
		t.Fatalf("notifications = %+v", notes)
	}
}

func TestConversationFailureClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		err         error
		wantKind    FailCode
		wantSession session.Kind
	}{
		{
			name:        "button not found degrades",
			err:         &provider.Failure{Kind: provider.FailButtonNotFound},
			wantKind:    FailButtonNotFound,
			wantSession: session.KindErrInteraction,
		},
		{
			name:        "reported error degrades",
			err:         &provider.Failure{Kind: provider.FailReportedError, Detail: "service down"},
			wantKind:    FailProviderError,
			wantSession: session.KindErrInteraction,
		},
		{
			name:        "reported empty is benign for the session",
			err:         &provider.Failure{Kind: provider.FailReportedEmpty},
			wantKind:    FailProviderEmpty,
			wantSession: session.KindOk,
		},
		{
			name:        "missing url is benign for the session",
			err:         &provider.Failure{Kind: provider.FailMainURLMissing},
			wantKind:    FailMainURLMissing,
			wantSession: session.KindOk,
		},
		{
			name:        "signatures without url",
			err:         &provider.Failure{Kind: provider.FailSignaturesNoURL},
			wantKind:    FailSignaturesSeenNoURL,
			wantSession: session.KindOk,
		},
		{
			name:        "conversation timeout degrades",
			err:         &provider.Failure{Kind: provider.FailConversationTimeout},
			wantKind:    FailConversationTimeout,
			wantSession: session.KindErrInteraction,
		},
		{
			name:        "transport error is internal",
			err:         &provider.TransportError{Kind: provider.TransportRPC, Err: errors.New("rpc boom")},
			wantKind:    FailInternal,
			wantSession: session.KindErrRPC,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newOrchFixture(t, Settings{})
			f.addSession(t, "sess-a", "alpha")
			f.runner.err = tt.err

			j, err := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a"})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			f.orc.process(ctx, j.ID)
			f.orc.cbWg.Wait()

			got := f.mustGet(t, j.ID)
			if got.State != StateFailed || got.ErrorKind != tt.wantKind {
				t.Fatalf("state=%v kind=%v, want failed %v", got.State, got.ErrorKind, tt.wantKind)
			}
			st, _ := f.reg.Status("sess-a")
			if st.Kind != tt.wantSession {
				t.Fatalf("session status = %v, want %v", st.Kind, tt.wantSession)
			}
			// A failed conversation is never charged to the account.
			if uses := f.ldg.DailyUses("sess-a", ledger.DayKey(f.now)); uses != 0 {
				t.Fatalf("daily uses = %d, want 0", uses)
			}
		})
	}
}

func TestDownloadFailureIsFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	f.addSession(t, "sess-a", "alpha")
	f.fetch.err = errors.New("connection reset")

	j, _ := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a"})
	f.orc.process(ctx, j.ID)
	f.orc.cbWg.Wait()

	got := f.mustGet(t, j.ID)
	if got.State != StateFailed || got.ErrorKind != FailDownloadPrimary {
		t.Fatalf("state=%v kind=%v, want failed download_primary", got.State, got.ErrorKind)
	}
	// The conversation succeeded, so the use is still charged.
	if uses := f.ldg.DailyUses("sess-a", ledger.DayKey(f.now)); uses != 1 {
		t.Fatalf("daily uses = %d, want 1", uses)
	}
}

func TestPublishFailureIsFatal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	f.addSession(t, "sess-a", "alpha")
	f.pub.err = errors.New("bucket gone")

	j, _ := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a"})
	f.orc.process(ctx, j.ID)
	f.orc.cbWg.Wait()

	got := f.mustGet(t, j.ID)
	if got.State != StateFailed || got.ErrorKind != FailPublishPrimary {
		t.Fatalf("state=%v kind=%v, want failed publish_primary", got.State, got.ErrorKind)
	}
}

func TestSecondaryArtifactBestEffort(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	f.addSession(t, "sess-a", "alpha")
	f.runner.res = provider.Result{
		PrimaryURL:   "https://cdn.example/main.bin",
		SecondaryURL: "https://cdn.example/extra.bin",
	}
	f.fetch.failOn = 2 // secondary download fails

	j, _ := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a"})
	f.orc.process(ctx, j.ID)
	f.orc.cbWg.Wait()

	got := f.mustGet(t, j.ID)
	if got.State != StateCompleted {
		t.Fatalf("state = %v, want completed despite secondary failure", got.State)
	}
	if got.Primary == nil || got.Secondary != nil {
		t.Fatalf("primary=%+v secondary=%+v, want primary only", got.Primary, got.Secondary)
	}
}

func TestNoPublisherPassesLinksThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	f.addSession(t, "sess-a", "alpha")
	f.runner.res = provider.Result{
		PrimaryURL:   "https://cdn.example/main.bin",
		SecondaryURL: "https://cdn.example/extra.bin",
	}
	f.orc.publish = nil

	j, _ := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a"})
	f.orc.process(ctx, j.ID)
	f.orc.cbWg.Wait()

	got := f.mustGet(t, j.ID)
	if got.State != StateCompleted {
		t.Fatalf("state = %v, want completed", got.State)
	}
	if got.Primary == nil || got.Primary.URL != "https://cdn.example/main.bin" {
		t.Fatalf("primary = %+v, want pass-through link", got.Primary)
	}
	if got.Secondary == nil || got.Secondary.URL != "https://cdn.example/extra.bin" {
		t.Fatalf("secondary = %+v, want pass-through link", got.Secondary)
	}
	if f.fetch.calls != 0 {
		t.Fatalf("fetch called %d times without a publisher", f.fetch.calls)
	}
}

func TestDailyLimitFlipsAfterUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	f.addSession(t, "sess-a", "alpha")

	for i := 0; i < 2; i++ {
		j, err := f.orc.Submit(ctx, SubmitRequest{URL: fmt.Sprintf("https://example.com/%d", i)})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		f.orc.process(ctx, j.ID)
		f.orc.cbWg.Wait()
		if got := f.mustGet(t, j.ID); got.State != StateCompleted {
			t.Fatalf("job %d state = %v", i, got.State)
		}
		f.now = f.now.Add(2 * time.Minute) // past the cooldown
	}

	st, _ := f.reg.Status("sess-a")
	if st.Kind != session.KindDailyLimit {
		t.Fatalf("session status = %v, want daily limit after budget spent", st.Kind)
	}
}

func TestResumeCollapsesDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	base := f.now.Add(-time.Hour)
	done := base.Add(time.Minute)

	put := func(j *Job) {
		t.Helper()
		if err := f.store.Put(ctx, j); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	put(&Job{ID: "j-old", IdemKey: "k", OriginalURL: "u", State: StateLinkRetrieval, Attempt: 2, CreatedAt: base})
	put(&Job{ID: "j-new", IdemKey: "k", OriginalURL: "u", State: StatePending, CreatedAt: base.Add(time.Minute)})
	put(&Job{ID: "j-done", IdemKey: "x", OriginalURL: "u", State: StateCompleted, CreatedAt: base, CompletedAt: &done})
	put(&Job{ID: "j-free", OriginalURL: "v", State: StateUpload, Attempt: 1, CreatedAt: base})

	if err := f.orc.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	old := f.mustGet(t, "j-old")
	if old.State != StatePending || old.Attempt != 2 {
		t.Fatalf("j-old state=%v attempt=%d, want pending with attempts preserved", old.State, old.Attempt)
	}
	if got := f.mustGet(t, "j-new"); got.State != StateSkippedDuplicate {
		t.Fatalf("j-new state = %v, want skipped duplicate", got.State)
	}
	if got := f.mustGet(t, "j-done"); got.State != StateCompleted {
		t.Fatalf("j-done state = %v, must stay completed", got.State)
	}
	if got := f.mustGet(t, "j-free"); got.State != StatePending || got.Attempt != 1 {
		t.Fatalf("j-free state=%v attempt=%d, want requeued", got.State, got.Attempt)
	}

	f.orc.qmu.Lock()
	queued := f.orc.queue.Len()
	f.orc.qmu.Unlock()
	if queued != 2 {
		t.Fatalf("queue length = %d, want 2 requeued jobs", queued)
	}
}

func TestCallbackNotConfigured(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{})
	f.addSession(t, "sess-a", "alpha")

	j, _ := f.orc.Submit(ctx, SubmitRequest{URL: "https://example.com/a"})
	f.orc.process(ctx, j.ID)
	f.orc.cbWg.Wait()

	got := f.mustGet(t, j.ID)
	if got.CallbackState != string(webhook.OutcomeNotConfigured) {
		t.Fatalf("callback state = %q, want not_configured", got.CallbackState)
	}
	if len(f.hooks.deliveries()) != 0 {
		t.Fatal("no delivery must happen without a callback URL")
	}
}

func TestSyncProcess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newOrchFixture(t, Settings{AcquireRetries: 1})
	f.addSession(t, "sess-a", "alpha")
	f.runner.res = provider.Result{
		PrimaryURL:   "https://cdn.example/main.bin",
		SecondaryURL: "https://cdn.example/extra.bin",
	}

	res, err := f.orc.SyncProcess(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("SyncProcess: %v", err)
	}
	if res.Primary == nil || res.Primary.URL == "" {
		t.Fatalf("primary = %+v", res.Primary)
	}
	if res.Secondary == nil {
		t.Fatal("secondary missing")
	}
	if uses := f.ldg.DailyUses("sess-a", ledger.DayKey(f.now)); uses != 1 {
		t.Fatalf("daily uses = %d, want 1", uses)
	}
	// Nothing is persisted for the synchronous path.
	jobs, err := f.store.List(ctx)
	if err != nil || len(jobs) != 0 {
		t.Fatalf("store has %d jobs, want none", len(jobs))
	}

	// No session free (cooldown) and a single attempt budget: hard error.
	if _, err := f.orc.SyncProcess(ctx, "https://example.com/b"); err == nil {
		t.Fatal("expected error when no session is available")
	}
}
