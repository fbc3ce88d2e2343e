package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultPath is where the CLI looks for the config file when no flag is
// given.
const DefaultPath = "~/.veilgate/config.json"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8790,
		},
		Database: DatabaseConfig{
			Mode:       "sqlite",
			SQLitePath: "~/.veilgate/veilgate.db",
		},
		Brain: BrainConfig{
			Provider:       "template",
			Model:          "gpt-4o-mini",
			Concurrency:    4,
			TimeoutSec:     30,
			AutoRespondSec: 300,
		},
		Sync: SyncConfig{
			IntervalSec: 60,
			Cron:        "*/5 * * * *",
		},
		Backoff: BackoffConfig{
			InitialSec: 5,
			Multiplier: 2,
			MaxSec:     60,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "veilgate",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values, and credentials only ever come from env.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets.
	envStr("VEILGATE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("VEILGATE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("VEILGATE_OPENAI_API_KEY", &c.Brain.APIKey)
	envStr("VEILGATE_TELEGRAM_TOKEN", &c.Sources.Telegram.Token)
	envStr("VEILGATE_DISCORD_TOKEN", &c.Sources.Discord.Token)
	envStr("VEILGATE_SMS_API_KEY", &c.Sources.SMS.APIKey)
	envStr("VEILGATE_SLACK_TOKEN", &c.Sources.Slack.Token)
	envStr("VEILGATE_MAILBOX_TOKEN", &c.Sources.Mailbox.Token)
	envStr("VEILGATE_CODEREVIEW_TOKEN", &c.Sources.CodeReview.Token)

	// Auto-enable sources whose credentials arrived via env.
	if c.Sources.Telegram.Token != "" {
		c.Sources.Telegram.Enabled = true
	}
	if c.Sources.Discord.Token != "" {
		c.Sources.Discord.Enabled = true
	}
	if c.Sources.Slack.Token != "" {
		c.Sources.Slack.Enabled = true
	}
	if c.Sources.Mailbox.Token != "" {
		c.Sources.Mailbox.Enabled = true
	}
	if c.Sources.CodeReview.Token != "" {
		c.Sources.CodeReview.Enabled = true
	}
	if c.Brain.APIKey != "" && c.Brain.Provider == "template" {
		c.Brain.Provider = "openai"
	}

	// Listener.
	envStr("VEILGATE_HOST", &c.Gateway.Host)
	if v := os.Getenv("VEILGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Database.
	envStr("VEILGATE_DB_MODE", &c.Database.Mode)
	envStr("VEILGATE_SQLITE_PATH", &c.Database.SQLitePath)

	// Brain.
	envStr("VEILGATE_BRAIN_PROVIDER", &c.Brain.Provider)
	envStr("VEILGATE_MODEL", &c.Brain.Model)
	envStr("VEILGATE_API_BASE", &c.Brain.APIBase)

	// Telemetry.
	envStr("VEILGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("VEILGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("VEILGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("VEILGATE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("VEILGATE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config as plain JSON. Secret fields carry `json:"-"` tags,
// so a saved file never contains credentials.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 of the config, used by hot reload to skip
// no-op file events.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome resolves a leading ~ against the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
