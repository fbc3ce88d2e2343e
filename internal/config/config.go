// Package config defines the runtime configuration. Files are JSON5 so
// hand-edited configs may carry comments and trailing commas. Secrets —
// tokens, API keys, database DSNs — are never written to the config file;
// they are read from VEILGATE_* environment variables only.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database"`
	Brain     BrainConfig     `json:"brain"`
	Filter    FilterConfig    `json:"filter"`
	Sources   SourcesConfig   `json:"sources"`
	Sync      SyncConfig      `json:"sync"`
	Backoff   BackoffConfig   `json:"backoff"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	Token          string   `json:"-"` // VEILGATE_GATEWAY_TOKEN
}

// DatabaseConfig selects the message store backend.
type DatabaseConfig struct {
	// Mode is one of "memory", "sqlite", "postgres".
	Mode        string `json:"mode"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"` // VEILGATE_POSTGRES_DSN
}

// BrainConfig configures classification and generation.
type BrainConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "template"
	// (offline keyword classifier and canned replies).
	Provider       string `json:"provider"`
	Model          string `json:"model,omitempty"`
	APIBase        string `json:"api_base,omitempty"`
	APIKey         string `json:"-"` // VEILGATE_OPENAI_API_KEY
	Concurrency    int64  `json:"concurrency,omitempty"`
	TimeoutSec     int    `json:"timeout_sec,omitempty"`
	AutoRespondSec int    `json:"auto_respond_sec,omitempty"`
}

// Timeout returns the provider timeout as a duration.
func (b BrainConfig) Timeout() time.Duration { return time.Duration(b.TimeoutSec) * time.Second }

// AutoRespondWindow returns the auto-respond countdown as a duration.
func (b BrainConfig) AutoRespondWindow() time.Duration {
	return time.Duration(b.AutoRespondSec) * time.Second
}

// FilterConfig tunes event suppression. Empty lists fall back to the
// built-in defaults.
type FilterConfig struct {
	OTPKeywords    []string `json:"otp_keywords,omitempty"`
	SystemKeywords []string `json:"system_keywords,omitempty"`
	SystemSourceID string   `json:"system_source_id,omitempty"`
}

// SourcesConfig enables and tunes the integrations.
type SourcesConfig struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Discord    DiscordConfig    `json:"discord"`
	SMS        SMSConfig        `json:"sms"`
	Slack      SlackConfig      `json:"slack"`
	Mailbox    MailboxConfig    `json:"mailbox"`
	CodeReview CodeReviewConfig `json:"codereview"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allow_from,omitempty"`
	Token     string   `json:"-"` // VEILGATE_TELEGRAM_TOKEN
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allow_from,omitempty"`
	Token     string   `json:"-"` // VEILGATE_DISCORD_TOKEN
}

type SMSConfig struct {
	Enabled    bool    `json:"enabled"`
	GatewayURL string  `json:"gateway_url,omitempty"`
	WebhookRPS float64 `json:"webhook_rps,omitempty"`
	APIKey     string  `json:"-"` // VEILGATE_SMS_API_KEY
}

type SlackConfig struct {
	Enabled  bool     `json:"enabled"`
	APIBase  string   `json:"api_base,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Token    string   `json:"-"` // VEILGATE_SLACK_TOKEN
}

type MailboxConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
	Token   string `json:"-"` // VEILGATE_MAILBOX_TOKEN
}

type CodeReviewConfig struct {
	Enabled bool     `json:"enabled"`
	BaseURL string   `json:"base_url,omitempty"`
	Repos   []string `json:"repos,omitempty"`
	Mention string   `json:"mention,omitempty"`
	Token   string   `json:"-"` // VEILGATE_CODEREVIEW_TOKEN
}

// SyncConfig schedules the poll sources.
type SyncConfig struct {
	IntervalSec int `json:"interval_sec,omitempty"`
	// Cron additionally triggers a full sync across all connected sources.
	Cron string `json:"cron,omitempty"`
}

// Interval returns the per-source poll interval as a duration.
func (s SyncConfig) Interval() time.Duration { return time.Duration(s.IntervalSec) * time.Second }

// BackoffConfig tunes retry pacing for provider failures and poll errors.
type BackoffConfig struct {
	InitialSec int     `json:"initial_sec,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
	MaxSec     int     `json:"max_sec,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}
