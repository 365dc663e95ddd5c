package app

import (
	"time"

	"fetchrelay/internal/artifact"
	"fetchrelay/internal/config"
	"fetchrelay/internal/httpapi"
	"fetchrelay/internal/job"
	"fetchrelay/internal/provider"
	"fetchrelay/internal/session"
	"fetchrelay/internal/webhook"
	logx "fetchrelay/pkg/logx"
)

// The config file carries durations as strings; these builders turn each
// section into the typed settings its component takes. Zero values fall back
// to the component defaults.

func engineSettings(cfg *config.Config) (provider.Settings, error) {
	e := cfg.Engine
	buttonTO, err := config.ParseDurationField("engine.button_timeout", e.ButtonTimeout)
	if err != nil {
		return provider.Settings{}, err
	}
	interTO, err := config.ParseDurationField("engine.intermediate_timeout", e.IntermediateTimeout)
	if err != nil {
		return provider.Settings{}, err
	}
	respTO, err := config.ParseDurationField("engine.response_timeout", e.ResponseTimeout)
	if err != nil {
		return provider.Settings{}, err
	}
	buffer, err := config.ParseDurationField("engine.loop_buffer", e.LoopBuffer)
	if err != nil {
		return provider.Settings{}, err
	}
	return provider.Settings{
		ButtonLabel: e.ButtonLabel,
		Policy: provider.Policy{
			PrimaryKeyword:      e.PrimaryKeyword,
			SecondaryKeyword:    e.SecondaryKeyword,
			LinkKeyword:         e.LinkKeyword,
			EmptyMarker:         e.EmptyMarker,
			MalfunctionKeywords: e.MalfunctionKeywords,
		},
		ButtonTimeout:       buttonTO,
		IntermediateTimeout: interTO,
		ResponseTimeout:     respTO,
		LoopBuffer:          buffer,
	}, nil
}

func schedulerSettings(cfg *config.Config) (session.SchedulerSettings, error) {
	p := cfg.Pool
	cmin, err := config.ParseDurationField("pool.cooldown_min", p.CooldownMin)
	if err != nil {
		return session.SchedulerSettings{}, err
	}
	cmax, err := config.ParseDurationField("pool.cooldown_max", p.CooldownMax)
	if err != nil {
		return session.SchedulerSettings{}, err
	}
	return session.SchedulerSettings{
		DailyLimit:  p.DailyLimit,
		CooldownMin: cmin,
		CooldownMax: cmax,
	}, nil
}

func orchestratorSettings(cfg *config.Config) (job.Settings, error) {
	delay, err := config.ParseDurationField("pool.acquire_retry_delay", cfg.Pool.AcquireRetryDelay)
	if err != nil {
		return job.Settings{}, err
	}
	// One worker per account: a session can serve only one job at a time
	// anyway, so more workers would just spin on acquisition.
	return job.Settings{
		Workers:           len(cfg.Accounts),
		AcquireRetries:    cfg.Pool.AcquireRetries,
		AcquireRetryDelay: delay,
	}, nil
}

func webhookSettings(cfg *config.Config) (webhook.Settings, error) {
	w := cfg.Webhook
	var delays []time.Duration
	for _, raw := range w.RetryDelays {
		d, err := config.ParseDurationField("webhook.retry_delays", raw)
		if err != nil {
			return webhook.Settings{}, err
		}
		delays = append(delays, d)
	}
	reqTO, err := config.ParseDurationField("webhook.request_timeout", w.RequestTimeout)
	if err != nil {
		return webhook.Settings{}, err
	}
	return webhook.Settings{
		RetryDelays:    delays,
		MaxAttempts:    w.MaxRetries,
		ProgressPerSec: w.ProgressRatePerSec,
		RequestTimeout: reqTO,
	}, nil
}

func storeConfig(cfg *config.Config) (job.StoreConfig, error) {
	busy, err := config.ParseDurationField("jobs.busy_timeout", cfg.Jobs.BusyTimeout)
	if err != nil {
		return job.StoreConfig{}, err
	}
	path := cfg.Jobs.Path
	if path == "" {
		path = "./data/jobs.json"
	}
	return job.StoreConfig{
		Driver:      cfg.Jobs.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func apiConfig(cfg *config.Config) (httpapi.Config, error) {
	a := cfg.API
	readTO, err := config.ParseDurationOrDefault("api.read_timeout", a.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	writeTO, err := config.ParseDurationOrDefault("api.write_timeout", a.WriteTimeout, 10*time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         a.Addr,
		Key:          a.Key,
		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
	}, nil
}

func s3Settings(s3 *config.S3Config) artifact.S3Settings {
	return artifact.S3Settings{
		Endpoint:        s3.Endpoint,
		Region:          s3.Region,
		Bucket:          s3.Bucket,
		AccessKeyID:     s3.AccessKeyID,
		SecretAccessKey: s3.SecretAccessKey,
		KeyPrefix:       s3.KeyPrefix,
		PublicBaseURL:   s3.PublicBaseURL,
		UsePathStyle:    s3.UsePathStyle,
	}
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
