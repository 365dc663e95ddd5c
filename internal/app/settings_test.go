package app

import (
	"testing"
	"time"

	"fetchrelay/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			ButtonLabel:         "Fetch",
			PrimaryKeyword:      "main file",
			SecondaryKeyword:    "extra file",
			LinkKeyword:         "link",
			EmptyMarker:         "nothing found",
			MalfunctionKeywords: []string{"error", "unavailable"},
			ButtonTimeout:       "45s",
			ResponseTimeout:     "90s",
		},
		Pool: config.PoolConfig{
			DailyLimit:        8,
			CooldownMin:       "30s",
			CooldownMax:       "2m",
			AcquireRetries:    3,
			AcquireRetryDelay: "5s",
			LedgerPath:        "./data/ledger.json",
		},
		Jobs: config.JobsConfig{Driver: "file", Path: "./data/jobs.json"},
		Webhook: config.WebhookConfig{
			RetryDelays: []string{"1m", "5m"},
			MaxRetries:  4,
		},
		API: config.APIConfig{Addr: "127.0.0.1:8080", WriteTimeout: "30s"},
		Accounts: []config.AccountConfig{
			{Token: "t1", Name: "alpha"},
			{Token: "t2", Name: "bravo"},
		},
	}
}

func TestEngineSettings(t *testing.T) {
	t.Parallel()
	s, err := engineSettings(baseConfig())
	if err != nil {
		t.Fatalf("engineSettings: %v", err)
	}
	if s.ButtonLabel != "Fetch" || s.ButtonTimeout != 45*time.Second || s.ResponseTimeout != 90*time.Second {
		t.Fatalf("settings = %+v", s)
	}
	if !s.Policy.IsPrimary("here is your main file link: https://x") {
		t.Fatal("policy keywords not wired")
	}

	bad := baseConfig()
	bad.Engine.ButtonTimeout = "soon"
	if _, err := engineSettings(bad); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestSchedulerSettings(t *testing.T) {
	t.Parallel()
	s, err := schedulerSettings(baseConfig())
	if err != nil {
		t.Fatalf("schedulerSettings: %v", err)
	}
	if s.DailyLimit != 8 || s.CooldownMin != 30*time.Second || s.CooldownMax != 2*time.Minute {
		t.Fatalf("settings = %+v", s)
	}
}

func TestOrchestratorSettingsWorkerPerAccount(t *testing.T) {
	t.Parallel()
	s, err := orchestratorSettings(baseConfig())
	if err != nil {
		t.Fatalf("orchestratorSettings: %v", err)
	}
	if s.Workers != 2 || s.AcquireRetries != 3 || s.AcquireRetryDelay != 5*time.Second {
		t.Fatalf("settings = %+v", s)
	}
}

func TestWebhookSettings(t *testing.T) {
	t.Parallel()
	s, err := webhookSettings(baseConfig())
	if err != nil {
		t.Fatalf("webhookSettings: %v", err)
	}
	if len(s.RetryDelays) != 2 || s.RetryDelays[0] != time.Minute || s.MaxAttempts != 4 {
		t.Fatalf("settings = %+v", s)
	}
}

func TestAPIConfigDefaults(t *testing.T) {
	t.Parallel()
	c, err := apiConfig(baseConfig())
	if err != nil {
		t.Fatalf("apiConfig: %v", err)
	}
	if c.Addr != "127.0.0.1:8080" {
		t.Fatalf("addr = %q", c.Addr)
	}
	if c.ReadTimeout != 15*time.Second {
		t.Fatalf("read timeout default = %v", c.ReadTimeout)
	}
	if c.WriteTimeout != 30*time.Second {
		t.Fatalf("write timeout = %v", c.WriteTimeout)
	}
}

func TestStoreConfigDefaultsPath(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Jobs.Path = ""
	c, err := storeConfig(cfg)
	if err != nil {
		t.Fatalf("storeConfig: %v", err)
	}
	if c.Path == "" {
		t.Fatal("path default missing")
	}
}
