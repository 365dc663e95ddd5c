package config

type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Telegram TelegramConfig  `json:"telegram"`
	Engine   EngineConfig    `json:"engine"`
	Pool     PoolConfig      `json:"pool"`
	Jobs     JobsConfig      `json:"jobs"`
	Webhook  WebhookConfig   `json:"webhook"`
	S3       *S3Config       `json:"s3,omitempty"`
	API      APIConfig       `json:"api"`
	Maint    *MaintConfig    `json:"maintenance,omitempty"`
	Accounts []AccountConfig `json:"accounts"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TelegramConfig identifies the provider bot the pool talks to.
type TelegramConfig struct {
	// BotUsername is the provider bot the conversation engine messages.
	BotUsername string `json:"bot_username"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// AccountConfig describes one automation account in the pool.
// Token doubles as the account's identity; keep it stable across restarts.
type AccountConfig struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// EngineConfig drives the provider conversation.
//
// All timeouts are Go duration strings. Keyword matching is case-insensitive
// substring containment; these values are hot-reloadable.
type EngineConfig struct {
	ButtonLabel         string   `json:"button_label"`
	PrimaryKeyword      string   `json:"primary_keyword"`
	SecondaryKeyword    string   `json:"secondary_keyword"`
	LinkKeyword         string   `json:"link_keyword"`
	EmptyMarker         string   `json:"empty_marker"`
	MalfunctionKeywords []string `json:"malfunction_keywords"`

	ButtonTimeout       string `json:"button_timeout,omitempty"`
	IntermediateTimeout string `json:"intermediate_timeout,omitempty"`
	ResponseTimeout     string `json:"response_timeout,omitempty"`
	LoopBuffer          string `json:"loop_buffer,omitempty"`
}

// PoolConfig controls session selection and pacing.
type PoolConfig struct {
	DailyLimit int `json:"daily_limit"`

	// Post-use cooldown window; a uniform value in [min,max] is applied
	// after every release regardless of outcome.
	CooldownMin string `json:"cooldown_min,omitempty"`
	CooldownMax string `json:"cooldown_max,omitempty"`

	AcquireRetries    int    `json:"acquire_retries,omitempty"`
	AcquireRetryDelay string `json:"acquire_retry_delay,omitempty"`

	// LedgerPath is where usage counters are persisted.
	LedgerPath string `json:"ledger_path"`
}

// JobsConfig controls the job store.
//
// Driver values:
//   - "file": dependency-free JSON document store
//   - "sqlite": SQLite database file (optional build tag)
type JobsConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// WebhookConfig controls final-result callback delivery.
type WebhookConfig struct {
	// RetryDelays are Go duration strings tried in order; attempts past the
	// end of the list reuse the last entry.
	RetryDelays []string `json:"retry_delays,omitempty"`
	MaxRetries  int      `json:"max_retries,omitempty"`

	// ProgressRatePerSec caps best-effort progress notifications.
	ProgressRatePerSec int    `json:"progress_rate_per_sec,omitempty"`
	RequestTimeout     string `json:"request_timeout,omitempty"`
}

// S3Config controls artifact republication. Omit the section to disable.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	KeyPrefix       string `json:"key_prefix,omitempty"`
	// PublicBaseURL, when set, is used to build returned artifact URLs.
	PublicBaseURL string `json:"public_base_url,omitempty"`
	UsePathStyle  bool   `json:"use_path_style,omitempty"`
}

type APIConfig struct {
	Addr string `json:"addr"`
	// Key guards mutating endpoints via the X-API-Key header; empty disables auth.
	Key          string `json:"key,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// MaintConfig controls periodic housekeeping.
type MaintConfig struct {
	// SweepSpec is a cron spec (e.g. "0 * * * *") for the temp-dir sweep.
	SweepSpec string `json:"sweep_spec,omitempty"`
	TempDir   string `json:"temp_dir,omitempty"`
	// MaxArtifactAge is a Go duration string; older temp files are removed.
	MaxArtifactAge string `json:"max_artifact_age,omitempty"`
}
