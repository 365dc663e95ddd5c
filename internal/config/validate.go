package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks cross-field constraints that the strict decoder cannot.
// It is installed as the watcher's validator so bad edits never get published.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Telegram.BotUsername) == "" {
		return errors.New("telegram.bot_username is required")
	}
	if len(cfg.Accounts) == 0 {
		return errors.New("accounts: at least one account is required")
	}
	seen := make(map[string]struct{}, len(cfg.Accounts))
	for i, a := range cfg.Accounts {
		tok := strings.TrimSpace(a.Token)
		if tok == "" {
			return fmt.Errorf("accounts[%d]: token is required", i)
		}
		if _, dup := seen[tok]; dup {
			return fmt.Errorf("accounts[%d]: duplicate token", i)
		}
		seen[tok] = struct{}{}
	}

	if strings.TrimSpace(cfg.Engine.ButtonLabel) == "" {
		return errors.New("engine.button_label is required")
	}
	if strings.TrimSpace(cfg.Engine.PrimaryKeyword) == "" || strings.TrimSpace(cfg.Engine.LinkKeyword) == "" {
		return errors.New("engine: primary_keyword and link_keyword are required")
	}

	if cfg.Pool.DailyLimit <= 0 {
		return errors.New("pool.daily_limit must be > 0")
	}
	cmin, err := ParseDurationField("pool.cooldown_min", cfg.Pool.CooldownMin)
	if err != nil {
		return err
	}
	cmax, err := ParseDurationField("pool.cooldown_max", cfg.Pool.CooldownMax)
	if err != nil {
		return err
	}
	if cmax > 0 && cmin > cmax {
		return errors.New("pool: cooldown_min must be <= cooldown_max")
	}
	if strings.TrimSpace(cfg.Pool.LedgerPath) == "" {
		return errors.New("pool.ledger_path is required")
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Jobs.Driver)); d {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("jobs.driver: unknown driver %q", d)
	}

	for i, raw := range cfg.Webhook.RetryDelays {
		if _, err := ParseDurationField(fmt.Sprintf("webhook.retry_delays[%d]", i), raw); err != nil {
			return err
		}
	}

	if cfg.S3 != nil {
		if strings.TrimSpace(cfg.S3.Bucket) == "" {
			return errors.New("s3.bucket is required when s3 is configured")
		}
		if strings.TrimSpace(cfg.S3.Region) == "" {
			return errors.New("s3.region is required when s3 is configured")
		}
	}

	if strings.TrimSpace(cfg.API.Addr) == "" {
		return errors.New("api.addr is required")
	}
	return nil
}
