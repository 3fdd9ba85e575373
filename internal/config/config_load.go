package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.interchat/interchat.db",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Relay: RelayConfig{
			CacheTTL:             300,
			FanoutTimeout:        5000,
			FanoutMaxConcurrency: 8,
			BroadcastRetention:   43200,
			RulesPromptCooldown:  300,
			SpamWindow:           5000,
			SpamMaxMessages:      5,
			NotifyCooldown:       60,
			BlockedMessageResponses: []string{
				"Your message was not delivered to the hub.",
				"That message could not be relayed.",
			},
		},
		Calls: CallsConfig{
			MatchmakerMaxWait:    180,
			RecentMatchCooldown:  300,
			CallMessageRetention: 3600,
			IdleTimeout:          900,
			TypingRefractory:     8,
			SweepSchedule:        "* * * * *",
		},
		Moderation: ModerationConfig{
			MaxHubsPerOwner:  3,
			BanSweepSchedule: "*/5 * * * *",
		},
		Filter: FilterConfig{
			NSFWThreshold: 0.85,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "interchat-relay",
			SampleRatio: 1,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults + env is a valid setup.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
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

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("INTERCHAT_DISCORD_TOKEN", &c.Discord.Token)
	envStr("INTERCHAT_DISCORD_APP_ID", &c.Discord.AppID)

	envStr("INTERCHAT_MODE", &c.Database.Mode)
	envStr("INTERCHAT_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("INTERCHAT_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("INTERCHAT_REDIS_ADDR", &c.Redis.Addr)
	envStr("INTERCHAT_REDIS_PASSWORD", &c.Redis.Password)
	if v := os.Getenv("INTERCHAT_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Redis.DB = n
		}
	}

	envStr("INTERCHAT_LOG_LEVEL", &c.Logging.Level)
	envStr("INTERCHAT_LOG_FORMAT", &c.Logging.Format)

	// Staff IDs from env (comma-separated)
	if v := os.Getenv("INTERCHAT_ADMIN_IDS"); v != "" {
		c.Moderation.AdminUserIDs = strings.Split(v, ",")
	}

	envStr("INTERCHAT_NSFW_ENDPOINT", &c.Filter.NSFWEndpoint)

	envStr("INTERCHAT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("INTERCHAT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("INTERCHAT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("INTERCHAT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("INTERCHAT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Used after a watched reload so file edits cannot downgrade env-set secrets.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"` and
// never reach disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
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
