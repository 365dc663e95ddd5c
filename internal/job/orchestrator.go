package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"fetchrelay/internal/artifact"
	"fetchrelay/internal/provider"
	"fetchrelay/internal/session"
	"fetchrelay/internal/webhook"
	logx "fetchrelay/pkg/logx"
)

// ErrMissingURL rejects submissions without a target URL.
var ErrMissingURL = errors.New("url is required")

// Runner executes one provider conversation on a borrowed connection.
type Runner interface {
	Run(ctx context.Context, conn provider.Conn, url string) (provider.Result, error)
}

// Fetcher downloads a provider link into the temp directory.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (artifact.Local, error)
}

// Publisher republishes a local file to blob storage.
type Publisher interface {
	Publish(ctx context.Context, local artifact.Local) (artifact.Object, error)
}

// Deliverer posts callbacks. Deliver blocks through its retry schedule;
// Notify is fire-and-forget.
type Deliverer interface {
	Deliver(ctx context.Context, url string, payload any) webhook.Outcome
	Notify(ctx context.Context, url string, payload any)
}

// Settings are the orchestrator knobs. Workers is fixed at Start; the retry
// values are hot-reloadable.
type Settings struct {
	Workers           int
	AcquireRetries    int
	AcquireRetryDelay time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Workers <= 0 {
		s.Workers = 4
	}
	if s.AcquireRetries <= 0 {
		s.AcquireRetries = 5
	}
	if s.AcquireRetryDelay <= 0 {
		s.AcquireRetryDelay = 10 * time.Second
	}
	return s
}

// SubmitRequest is one job submission.
type SubmitRequest struct {
	URL         string
	CallbackURL string
	Metadata    map[string]string
}

// Orchestrator drives jobs through the retrieval pipeline. Each job borrows
// one session for the conversation only; download and publication happen
// after the session is released.
type Orchestrator struct {
	log       logx.Logger
	store     Store
	sch       *session.Scheduler
	engine    Runner
	fetch     Fetcher
	publish   Publisher
	callbacks Deliverer

	now func() time.Time

	cfgMu sync.Mutex
	cfg   Settings

	// subMu serializes the idempotency lookup and the insert in Submit.
	subMu sync.Mutex

	qmu   sync.Mutex
	queue *delayQueue
	wake  chan struct{}

	runCtx context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	work   chan string

	wg   sync.WaitGroup // dispatcher + workers
	cbWg sync.WaitGroup // in-flight final callbacks

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewOrchestrator(store Store, sch *session.Scheduler, engine Runner, fetch Fetcher, publish Publisher, callbacks Deliverer, cfg Settings, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		log:       log,
		store:     store,
		sch:       sch,
		engine:    engine,
		fetch:     fetch,
		publish:   publish,
		callbacks: callbacks,
		now:       time.Now,
		cfg:       cfg.withDefaults(),
		queue:     newDelayQueue(),
		wake:      make(chan struct{}, 1),
		runCtx:    ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
		work:      make(chan string),
	}
}

// SetNow overrides the clock; used by tests.
func (o *Orchestrator) SetNow(fn func() time.Time) { o.now = fn }

// Apply swaps the retry settings; the worker count stays as started.
func (o *Orchestrator) Apply(cfg Settings) {
	cfg = cfg.withDefaults()
	o.cfgMu.Lock()
	cfg.Workers = o.cfg.Workers
	o.cfg = cfg
	o.cfgMu.Unlock()
}

func (o *Orchestrator) settings() Settings {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.cfg
}

// Start launches the dispatcher and worker pool.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		cfg := o.settings()
		o.wg.Add(1)
		go o.dispatch()
		for i := 0; i < cfg.Workers; i++ {
			o.wg.Add(1)
			go o.worker()
		}
		o.log.Info("orchestrator started", logx.Int("workers", cfg.Workers))
	})
}

// Stop drains the pipeline: no new jobs are dequeued, in-flight jobs run to
// completion until ctx expires, then they are hard-canceled.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.stopOnce.Do(func() { close(o.quit) })

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		o.cbWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// Submit records a new job and queues it, honoring the idempotency key in
// metadata: a completed prior job is returned as-is, an in-flight one is
// joined, and a failed or skipped one is retried as a fresh job.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.URL == "" {
		return nil, ErrMissingURL
	}

	// The dedupe lookup and the insert must not interleave across requests,
	// or two submissions with one key both miss the index and create two jobs.
	o.subMu.Lock()
	defer o.subMu.Unlock()

	idemKey := req.Metadata[MetadataIdemKey]
	if idemKey != "" {
		prev, ok, err := o.store.FindByIdemKey(ctx, idemKey, req.URL)
		if err != nil {
			return nil, err
		}
		if ok {
			switch prev.State {
			case StateFailed, StateSkippedDuplicate:
				// Fall through and submit a fresh attempt.
			default:
				o.log.Debug("submission deduplicated",
					logx.String("job", prev.ID),
					logx.String("state", prev.State.String()))
				return prev, nil
			}
		}
	}

	now := o.now()
	j := &Job{
		ID:          uuid.NewString(),
		OriginalURL: req.URL,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
		IdemKey:     idemKey,
		State:       StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.Put(ctx, j); err != nil {
		return nil, err
	}
	o.enqueue(j.ID, now)
	o.log.Info("job submitted", logx.String("job", j.ID), logx.String("url", j.OriginalURL))
	return j.Clone(), nil
}

// Get returns the persisted record for id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Job, bool, error) {
	return o.store.Get(ctx, id)
}

// Resume requeues jobs interrupted by a restart. Attempt counters survive.
// When several non-terminal jobs share an idempotency key and URL, the oldest
// is resumed and the rest are marked SkippedDuplicate.
func (o *Orchestrator) Resume(ctx context.Context) error {
	jobs, err := o.store.List(ctx)
	if err != nil {
		return err
	}

	// List is newest first; walk oldest first so the original submission wins.
	seen := map[string]bool{}
	resumed, skipped := 0, 0
	for i := len(jobs) - 1; i >= 0; i-- {
		j := jobs[i]
		if j.State.Terminal() {
			continue
		}
		if j.IdemKey != "" {
			k := j.IdemKey + "\x00" + j.OriginalURL
			if seen[k] {
				now := o.now()
				j.State = StateSkippedDuplicate
				j.UpdatedAt = now
				j.CompletedAt = &now
				if err := o.store.Put(ctx, j); err != nil {
					return err
				}
				skipped++
				continue
			}
			seen[k] = true
		}
		j.State = StatePending
		j.UpdatedAt = o.now()
		if err := o.store.Put(ctx, j); err != nil {
			return err
		}
		o.enqueue(j.ID, o.now())
		resumed++
	}
	if resumed > 0 || skipped > 0 {
		o.log.Info("interrupted jobs requeued", logx.Int("resumed", resumed), logx.Int("skipped_duplicates", skipped))
	}
	return nil
}

// SyncResult is the inline pipeline outcome for the deprecated synchronous
// endpoint. Nothing is persisted and no callback fires.
type SyncResult struct {
	Primary   *Artifact
	Secondary *Artifact
}

// SyncProcess runs the whole pipeline inline for one URL.
func (o *Orchestrator) SyncProcess(ctx context.Context, url string) (SyncResult, error) {
	if url == "" {
		return SyncResult{}, ErrMissingURL
	}
	cfg := o.settings()

	var lease *session.Lease
	for attempt := 1; ; attempt++ {
		var ok bool
		lease, ok = o.sch.Acquire()
		if ok {
			break
		}
		if attempt >= cfg.AcquireRetries {
			return SyncResult{}, errors.New("no eligible session available")
		}
		tmr := time.NewTimer(cfg.AcquireRetryDelay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return SyncResult{}, ctx.Err()
		case <-tmr.C:
		}
	}

	res, runErr := o.runConversation(ctx, lease, url)
	if runErr != nil {
		return SyncResult{}, runErr
	}

	primary, err := o.republish(ctx, res.PrimaryURL)
	if err != nil {
		return SyncResult{}, err
	}
	out := SyncResult{Primary: primary}
	if res.SecondaryURL != "" {
		if sec, err := o.republish(ctx, res.SecondaryURL); err != nil {
			o.log.Warn("secondary artifact skipped", logx.String("url", url), logx.Err(err))
		} else {
			out.Secondary = sec
		}
	}
	return out, nil
}

func (o *Orchestrator) enqueue(id string, at time.Time) {
	o.qmu.Lock()
	o.queue.Push(id, at)
	o.qmu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) dispatch() {
	defer o.wg.Done()
	for {
		o.qmu.Lock()
		id, ready := o.queue.PopReady(o.now())
		var wait time.Duration
		if !ready {
			wait = time.Minute
			if at, ok := o.queue.NextReadyAt(); ok {
				if d := at.Sub(o.now()); d < wait {
					wait = d
				}
			}
		}
		o.qmu.Unlock()

		if ready {
			select {
			case o.work <- id:
			case <-o.quit:
				return
			case <-o.runCtx.Done():
				return
			}
			continue
		}

		tmr := time.NewTimer(wait)
		select {
		case <-o.quit:
			tmr.Stop()
			return
		case <-o.runCtx.Done():
			tmr.Stop()
			return
		case <-o.wake:
			tmr.Stop()
		case <-tmr.C:
		}
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.quit:
			return
		case <-o.runCtx.Done():
			return
		case id := <-o.work:
			o.process(o.runCtx, id)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, id string) {
	j, ok, err := o.store.Get(ctx, id)
	if err != nil {
		o.log.Error("job load failed", logx.String("job", id), logx.Err(err))
		return
	}
	if !ok || j.State.Terminal() {
		return
	}
	cfg := o.settings()

	lease, acquired := o.sch.Acquire()
	if !acquired {
		j.Attempt++
		if j.Attempt >= cfg.AcquireRetries {
			o.fail(ctx, j, FailNoWorkerAvailable, "no eligible session after retries")
			return
		}
		j.State = StateWaitingForWorker
		o.put(ctx, j)
		o.notifyProgress(ctx, j)
		o.enqueue(j.ID, o.now().Add(cfg.AcquireRetryDelay))
		return
	}

	j.State = StateLinkRetrieval
	o.put(ctx, j)
	o.notifyProgress(ctx, j)

	res, runErr := o.runConversation(ctx, lease, j.OriginalURL)
	if runErr != nil {
		code, detail := classifyRunError(runErr)
		o.fail(ctx, j, code, detail)
		return
	}

	j.State = StateLinksRetrieved
	o.put(ctx, j)
	o.notifyProgress(ctx, j)

	if o.publish == nil {
		// No blob store configured: hand the provider links through untouched.
		j.Primary = &Artifact{URL: res.PrimaryURL}
	} else {
		local, err := o.fetch.Fetch(ctx, res.PrimaryURL)
		if err != nil {
			o.fail(ctx, j, FailDownloadPrimary, err.Error())
			return
		}
		defer local.Remove()

		j.State = StateUpload
		o.put(ctx, j)
		o.notifyProgress(ctx, j)

		obj, err := o.publish.Publish(ctx, local)
		if err != nil {
			o.fail(ctx, j, FailPublishPrimary, err.Error())
			return
		}
		j.Primary = &Artifact{
			RemoteKey:    obj.Key,
			OriginalName: obj.Name,
			SizeBytes:    obj.Size,
			URL:          obj.URL,
		}
	}

	if res.SecondaryURL != "" {
		if sec, err := o.republish(ctx, res.SecondaryURL); err != nil {
			o.log.Warn("secondary artifact skipped", logx.String("job", j.ID), logx.Err(err))
		} else {
			j.Secondary = sec
		}
	}

	now := o.now()
	j.State = StateCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	o.put(ctx, j)
	o.log.Info("job completed",
		logx.String("job", j.ID),
		logx.String("url", j.OriginalURL),
		logx.Bool("secondary", j.Secondary != nil))
	o.deliverFinal(j)
}

// runConversation holds the lease for the conversation only and applies the
// resulting session status and usage charge before releasing.
func (o *Orchestrator) runConversation(ctx context.Context, lease *session.Lease, url string) (provider.Result, error) {
	defer lease.Release()
	sess := lease.Session()

	res, runErr := o.engine.Run(ctx, sess.Conn(), url)
	if st, apply := session.StatusForError(runErr, o.now()); apply {
		o.sch.ApplyStatus(sess.ID(), st)
	}
	if runErr == nil {
		if err := o.sch.RecordUse(sess.ID()); err != nil {
			o.log.Warn("usage charge failed", logx.String("session", sess.Name()), logx.Err(err))
		}
	}
	return res, runErr
}

// republish downloads url and uploads it, cleaning up the temp file on every
// path. Without a configured publisher the provider link passes through.
func (o *Orchestrator) republish(ctx context.Context, url string) (*Artifact, error) {
	if o.publish == nil {
		return &Artifact{URL: url}, nil
	}
	local, err := o.fetch.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer local.Remove()

	obj, err := o.publish.Publish(ctx, local)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		RemoteKey:    obj.Key,
		OriginalName: obj.Name,
		SizeBytes:    obj.Size,
		URL:          obj.URL,
	}, nil
}

func (o *Orchestrator) fail(ctx context.Context, j *Job, code FailCode, detail string) {
	now := o.now()
	j.State = StateFailed
	j.ErrorKind = code
	j.ErrorDetail = detail
	j.UpdatedAt = now
	j.CompletedAt = &now
	o.put(ctx, j)
	o.log.Warn("job failed",
		logx.String("job", j.ID),
		logx.String("url", j.OriginalURL),
		logx.String("kind", string(code)),
		logx.String("detail", detail))
	o.deliverFinal(j)
}

func (o *Orchestrator) put(ctx context.Context, j *Job) {
	j.UpdatedAt = o.now()
	if err := o.store.Put(ctx, j); err != nil {
		o.log.Error("job persist failed", logx.String("job", j.ID), logx.Err(err))
	}
}

// deliverFinal posts the terminal callback off the worker path; the delivery
// schedule can span hours and must not pin a worker.
func (o *Orchestrator) deliverFinal(j *Job) {
	if j.CallbackURL == "" {
		j.CallbackState = string(webhook.OutcomeNotConfigured)
		o.put(context.Background(), j)
		return
	}
	cp := j.Clone()
	o.cbWg.Add(1)
	go func() {
		defer o.cbWg.Done()
		out := o.callbacks.Deliver(o.runCtx, cp.CallbackURL, resultPayload(cp))
		cp.CallbackState = string(out)
		o.put(context.Background(), cp)
	}()
}

func (o *Orchestrator) notifyProgress(ctx context.Context, j *Job) {
	if j.CallbackURL == "" {
		return
	}
	o.callbacks.Notify(ctx, j.CallbackURL, progressPayload{
		JobID:   j.ID,
		Status:  j.State.String(),
		URL:     j.OriginalURL,
		Attempt: j.Attempt,
	})
}

type progressPayload struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	URL     string `json:"url"`
	Attempt int    `json:"attempt,omitempty"`
}

type finalPayload struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	URL         string    `json:"url"`
	Primary     *Artifact `json:"primary_artifact,omitempty"`
	Secondary   *Artifact `json:"secondary_artifact,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}

func resultPayload(j *Job) finalPayload {
	return finalPayload{
		JobID:       j.ID,
		Status:      j.State.String(),
		URL:         j.OriginalURL,
		Primary:     j.Primary,
		Secondary:   j.Secondary,
		ErrorKind:   string(j.ErrorKind),
		ErrorDetail: j.ErrorDetail,
	}
}

func classifyRunError(err error) (FailCode, string) {
	var f *provider.Failure
	if errors.As(err, &f) {
		return FailCode(f.Kind.String()), f.Detail
	}
	return FailInternal, err.Error()
}
