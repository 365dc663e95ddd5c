package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fetchrelay/internal/artifact"
	"fetchrelay/internal/config"
	"fetchrelay/internal/httpapi"
	"fetchrelay/internal/job"
	"fetchrelay/internal/ledger"
	"fetchrelay/internal/provider"
	"fetchrelay/internal/session"
	"fetchrelay/internal/webhook"
	logx "fetchrelay/pkg/logx"
)

// App wires the whole service together and owns its lifecycle.
type App struct {
	log  logx.Logger
	logs *logx.Service
	cfgm *config.Manager

	reg    *session.Registry
	ldg    *ledger.Ledger
	sch    *session.Scheduler
	engine *provider.Engine
	hooks  *webhook.Sender
	store  job.Store
	orc    *job.Orchestrator
	api    *httpapi.Server
	down   *artifact.Downloader
	crond  *cron.Cron

	watchCancel context.CancelFunc
	cfgCh       chan *config.Config
	wg          sync.WaitGroup
}

// New loads and validates the config and initializes logging. Nothing
// connects until Start.
func New(cfgPath string) (*App, error) {
	m := config.NewManager(cfgPath)
	m.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})
	cfg, err := m.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(loggingConfig(cfg))
	m.SetLogger(log.With(logx.String("comp", "config")))

	return &App{log: log, logs: logs, cfgm: m}, nil
}

// Start connects all accounts, resumes interrupted jobs and brings up the
// API, the maintenance cron and the config watcher.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	engineCfg, err := engineSettings(cfg)
	if err != nil {
		return err
	}
	schedCfg, err := schedulerSettings(cfg)
	if err != nil {
		return err
	}
	orcCfg, err := orchestratorSettings(cfg)
	if err != nil {
		return err
	}
	hookCfg, err := webhookSettings(cfg)
	if err != nil {
		return err
	}
	jobsCfg, err := storeConfig(cfg)
	if err != nil {
		return err
	}
	apiCfg, err := apiConfig(cfg)
	if err != nil {
		return err
	}
	pollTO, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return err
	}

	a.ldg, err = ledger.Open(cfg.Pool.LedgerPath, a.log.With(logx.String("comp", "ledger")))
	if err != nil {
		return err
	}
	a.reg = session.NewRegistry(a.log.With(logx.String("comp", "pool")))
	a.sch = session.NewScheduler(a.reg, a.ldg, schedCfg, a.log.With(logx.String("comp", "pool")))

	a.connectAccounts(ctx, cfg, pollTO)
	a.log.Info("account pool ready", logx.Int("total", a.reg.Len()))

	a.engine = provider.NewEngine(engineCfg, a.log.With(logx.String("comp", "engine")))
	a.hooks = webhook.NewSender(hookCfg, a.log.With(logx.String("comp", "webhook")))

	a.store, err = job.OpenStore(jobsCfg, a.log.With(logx.String("comp", "jobs")))
	if err != nil {
		return err
	}

	tempDir := filepath.Join(os.TempDir(), "fetchrelay")
	sweepSpec := "@hourly"
	maxArtifactAge := 24 * time.Hour
	if cfg.Maint != nil {
		if cfg.Maint.TempDir != "" {
			tempDir = cfg.Maint.TempDir
		}
		if cfg.Maint.SweepSpec != "" {
			sweepSpec = cfg.Maint.SweepSpec
		}
		age, err := config.ParseDurationField("maintenance.max_artifact_age", cfg.Maint.MaxArtifactAge)
		if err != nil {
			return err
		}
		if age > 0 {
			maxArtifactAge = age
		}
	}
	a.down = artifact.NewDownloader(tempDir, a.log.With(logx.String("comp", "artifact")))

	var pub job.Publisher
	if cfg.S3 != nil {
		p, err := artifact.NewPublisher(ctx, s3Settings(cfg.S3), a.log.With(logx.String("comp", "artifact")))
		if err != nil {
			return err
		}
		pub = p
	} else {
		a.log.Warn("s3 not configured; provider links will be returned unpublished")
	}

	a.orc = job.NewOrchestrator(a.store, a.sch, a.engine, a.down, pub, a.hooks, orcCfg, a.log.With(logx.String("comp", "jobs")))
	if err := a.orc.Resume(ctx); err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}
	a.orc.Start()

	a.api = httpapi.New(apiCfg, a.orc, a.reg, a.ldg, cfg.S3 != nil, a.log.With(logx.String("comp", "api")))
	if err := a.api.Start(); err != nil {
		return err
	}

	a.crond = cron.New()
	if _, err := a.crond.AddFunc(sweepSpec, func() {
		n, err := a.down.SweepOlderThan(maxArtifactAge)
		if err != nil {
			a.log.Warn("temp sweep failed", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("temp artifacts swept", logx.Int("removed", n))
		}
	}); err != nil {
		return fmt.Errorf("maintenance.sweep_spec: %w", err)
	}
	if _, err := a.crond.AddFunc("@midnight", func() {
		// Log the closing day's counters before the limits reset.
		day := ledger.DayKey(time.Now().Add(-time.Hour))
		for _, rec := range a.ldg.Snapshot() {
			a.log.Info("daily usage rollover",
				logx.String("account", rec.Name),
				logx.Int("uses", rec.Daily[day]),
				logx.Int("total_uses", rec.TotalUses),
				logx.String("status", rec.Status))
		}
	}); err != nil {
		return err
	}
	a.crond.Start()

	wctx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(wctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()
	a.cfgCh = a.cfgm.Subscribe(4)
	a.wg.Add(1)
	go a.applyLoop(wctx)

	a.log.Info("service started")
	return nil
}

// Stop shuts components down in dependency order: stop taking work, drain
// the pipeline, then disconnect.
func (a *App) Stop(ctx context.Context) {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.cfgCh != nil {
		a.cfgm.Unsubscribe(a.cfgCh)
	}
	if a.api != nil {
		a.api.Stop(ctx)
	}
	if a.crond != nil {
		select {
		case <-a.crond.Stop().Done():
		case <-ctx.Done():
		}
	}
	if a.orc != nil {
		if err := a.orc.Stop(ctx); err != nil {
			a.log.Warn("pipeline drain incomplete", logx.Err(err))
		}
	}
	if a.reg != nil {
		a.reg.CloseAll()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.wg.Wait()
	a.log.Info("service stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// connectAccounts dials every account concurrently. A failed connect demotes
// that account to a typed status; the rest of the pool comes up regardless.
func (a *App) connectAccounts(ctx context.Context, cfg *config.Config, pollTO time.Duration) {
	dialer := &provider.TelegramDialer{
		Log:         a.log.With(logx.String("comp", "telegram")),
		BotUsername: cfg.Telegram.BotUsername,
		PollTimeout: pollTO,
	}

	var wg sync.WaitGroup
	for i, acct := range cfg.Accounts {
		name := acct.Name
		if name == "" {
			name = fmt.Sprintf("account-%d", i+1)
		}
		if err := a.ldg.Ensure(acct.Token, name); err != nil {
			a.log.Warn("ledger entry failed", logx.String("account", name), logx.Err(err))
		}
		wg.Add(1)
		go func(token, name string) {
			defer wg.Done()
			conn, err := dialer.Dial(ctx, token, name)
			if err != nil {
				st, ok := session.StatusForError(err, time.Now())
				if !ok {
					st = session.ErrUnhandled()
				}
				a.reg.Add(token, name, nil, st)
				a.sch.ApplyStatus(token, st)
				a.log.Warn("account connect failed",
					logx.String("account", name),
					logx.String("status", st.String()),
					logx.Err(err))
				return
			}
			a.reg.Add(token, name, conn, session.Ok())
			a.sch.ApplyStatus(token, session.Ok())
			a.log.Info("account connected", logx.String("account", name))
		}(acct.Token, name)
	}
	wg.Wait()
}

func (a *App) applyLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			a.applyConfig(cfg)
		}
	}
}

// applyConfig pushes hot-reloadable sections into the running components.
// A section that fails to parse is skipped; the rest still apply.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(loggingConfig(cfg))

	if s, err := engineSettings(cfg); err != nil {
		a.log.Warn("reload: engine section rejected", logx.Err(err))
	} else {
		a.engine.Apply(s)
	}
	if s, err := schedulerSettings(cfg); err != nil {
		a.log.Warn("reload: pool section rejected", logx.Err(err))
	} else {
		a.sch.Apply(s)
	}
	if s, err := orchestratorSettings(cfg); err != nil {
		a.log.Warn("reload: pool retry section rejected", logx.Err(err))
	} else {
		a.orc.Apply(s)
	}
	if s, err := webhookSettings(cfg); err != nil {
		a.log.Warn("reload: webhook section rejected", logx.Err(err))
	} else {
		a.hooks.Apply(s)
	}
	a.log.Info("config reloaded")
}
