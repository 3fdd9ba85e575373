package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Config is the root configuration for the InterChat relay.
type Config struct {
	Discord    DiscordConfig    `json:"discord"`
	Database   DatabaseConfig   `json:"database,omitempty"`
	Redis      RedisConfig      `json:"redis"`
	Logging    LoggingConfig    `json:"logging,omitempty"`
	Relay      RelayConfig      `json:"relay"`
	Calls      CallsConfig      `json:"calls"`
	Moderation ModerationConfig `json:"moderation,omitempty"`
	Filter     FilterConfig     `json:"filter,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
	mu         sync.RWMutex
}

// DiscordConfig holds the bot credentials. The token never comes from the
// config file; only the INTERCHAT_DISCORD_TOKEN environment variable sets it.
type DiscordConfig struct {
	Token string `json:"-"`               // from env INTERCHAT_DISCORD_TOKEN only
	AppID string `json:"appId,omitempty"` // application id, used for webhook ownership checks
}

// DatabaseConfig selects the entity store backend.
// PostgresDSN is env-only (INTERCHAT_POSTGRES_DSN), like the bot token.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"`       // "standalone" (default, SQLite) or "managed" (Postgres)
	PostgresDSN string `json:"-"`                    // from env INTERCHAT_POSTGRES_DSN only
	SQLitePath  string `json:"sqlitePath,omitempty"` // standalone mode database file
}

// IsManagedMode reports whether the relay runs against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// RedisConfig addresses the shared cache / queue / record store.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"` // from env INTERCHAT_REDIS_PASSWORD only
	DB       int    `json:"db,omitempty"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // "text" (default) or "json"
}

// RelayConfig tunes the hub broadcast hot path. Durations are plain numbers
// with the unit fixed by the field name, matching how operators already know
// these knobs.
type RelayConfig struct {
	CacheTTL             int      `json:"cacheTtl,omitempty"`             // seconds, connection/hub cache
	FanoutTimeout        int      `json:"fanoutTimeout,omitempty"`        // milliseconds, per-sibling webhook call
	FanoutMaxConcurrency int      `json:"fanoutMaxConcurrency,omitempty"` // in-flight fan-outs per hub
	BroadcastRetention   int      `json:"broadcastRetention,omitempty"`   // seconds, broadcast record TTL
	RulesPromptCooldown  int      `json:"rulesPromptCooldown,omitempty"`  // seconds, rules prompt shown marker
	SpamWindow           int      `json:"spamWindow,omitempty"`           // milliseconds, spam sliding window
	SpamMaxMessages      int      `json:"spamMaxMessages,omitempty"`      // messages allowed per window
	NotifyCooldown       int      `json:"notifyCooldown,omitempty"`       // seconds, blocked-author notice cooldown
	BlockedMessageResponses []string `json:"blockedMessageResponses,omitempty"`
}

// CallsConfig tunes the 1:1 call matchmaker and sessions.
type CallsConfig struct {
	MatchmakerMaxWait    int    `json:"matchmakerMaxWait,omitempty"`    // seconds a queue entry may wait
	RecentMatchCooldown  int    `json:"recentMatchCooldown,omitempty"`  // seconds before a pair may re-match
	CallMessageRetention int    `json:"callMessageRetention,omitempty"` // seconds the message ring outlives the call
	IdleTimeout          int    `json:"idleTimeout,omitempty"`          // seconds of silence before a call is ended
	TypingRefractory     int    `json:"typingRefractory,omitempty"`     // seconds between typing relays per channel
	SweepSchedule        string `json:"sweepSchedule,omitempty"`        // cron expression for the queue/idle sweeper
}

// ModerationConfig scopes staff actions.
type ModerationConfig struct {
	AdminUserIDs    []string `json:"adminUserIds,omitempty"`
	MaxHubsPerOwner int      `json:"maxHubsPerOwner,omitempty"`
	BanSweepSchedule string  `json:"banSweepSchedule,omitempty"` // cron expression for expired-ban rewrites
}

// FilterConfig configures the global content classifier.
// An empty endpoint disables attachment classification (check passes open).
type FilterConfig struct {
	NSFWEndpoint  string   `json:"nsfwEndpoint,omitempty"`
	NSFWThreshold float64  `json:"nsfwThreshold,omitempty"` // 0..1, block at or above
	BlockedTerms  []string `json:"blockedTerms,omitempty"`  // process-wide term floor under per-hub rules
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled,omitempty"`
	Endpoint    string  `json:"endpoint,omitempty"`    // e.g. "localhost:4317"
	Protocol    string  `json:"protocol,omitempty"`    // "grpc" (default) or "http"
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"serviceName,omitempty"` // default "interchat-relay"
	SampleRatio float64 `json:"sampleRatio,omitempty"` // 0..1, default 1
}

// CacheTTLDuration returns the connection/hub cache TTL.
func (r RelayConfig) CacheTTLDuration() time.Duration {
	return time.Duration(r.CacheTTL) * time.Second
}

// FanoutTimeoutDuration returns the per-sibling webhook deadline.
func (r RelayConfig) FanoutTimeoutDuration() time.Duration {
	return time.Duration(r.FanoutTimeout) * time.Millisecond
}

// SpamWindowDuration returns the spam sliding window width.
func (r RelayConfig) SpamWindowDuration() time.Duration {
	return time.Duration(r.SpamWindow) * time.Millisecond
}

// BroadcastRetentionDuration returns the broadcast record TTL.
func (r RelayConfig) BroadcastRetentionDuration() time.Duration {
	return time.Duration(r.BroadcastRetention) * time.Second
}

// RulesPromptCooldownDuration returns the rules-prompt shown-marker TTL.
func (r RelayConfig) RulesPromptCooldownDuration() time.Duration {
	return time.Duration(r.RulesPromptCooldown) * time.Second
}

// NotifyCooldownDuration returns the blocked-author notice cooldown.
func (r RelayConfig) NotifyCooldownDuration() time.Duration {
	return time.Duration(r.NotifyCooldown) * time.Second
}

// MaxWaitDuration returns the matchmaker queue entry lifetime.
func (c CallsConfig) MaxWaitDuration() time.Duration {
	return time.Duration(c.MatchmakerMaxWait) * time.Second
}

// CooldownDuration returns the recent-match exclusion window.
func (c CallsConfig) CooldownDuration() time.Duration {
	return time.Duration(c.RecentMatchCooldown) * time.Second
}

// RetentionDuration returns how long ended-call state is kept for reports.
func (c CallsConfig) RetentionDuration() time.Duration {
	return time.Duration(c.CallMessageRetention) * time.Second
}

// IdleTimeoutDuration returns the call idle cutoff.
func (c CallsConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}

// TypingRefractoryDuration returns the per-channel typing relay spacing.
func (c CallsConfig) TypingRefractoryDuration() time.Duration {
	return time.Duration(c.TypingRefractory) * time.Second
}

// Validate rejects configurations the relay cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Mode {
	case "", "standalone", "managed":
	default:
		return fmt.Errorf("database.mode: unknown mode %q", c.Database.Mode)
	}
	if c.Database.Mode == "managed" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("database.mode is managed but INTERCHAT_POSTGRES_DSN is not set")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	gron := gronx.New()
	if s := c.Calls.SweepSchedule; s != "" && !gron.IsValid(s) {
		return fmt.Errorf("calls.sweepSchedule: invalid cron expression %q", s)
	}
	if s := c.Moderation.BanSweepSchedule; s != "" && !gron.IsValid(s) {
		return fmt.Errorf("moderation.banSweepSchedule: invalid cron expression %q", s)
	}
	if t := c.Filter.NSFWThreshold; t < 0 || t > 1 {
		return fmt.Errorf("filter.nsfwThreshold: %v outside [0,1]", t)
	}
	return nil
}

// ReplaceDynamic swaps the fields that may change while the relay is running.
// Called by the config watcher; everything else requires a restart.
func (c *Config) ReplaceDynamic(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Relay.BlockedMessageResponses = src.Relay.BlockedMessageResponses
	c.Moderation.AdminUserIDs = src.Moderation.AdminUserIDs
}

// BlockedResponses returns the current blocked-message response pool.
func (c *Config) BlockedResponses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.Relay.BlockedMessageResponses))
	copy(out, c.Relay.BlockedMessageResponses)
	return out
}

// IsAdmin reports whether the user id is in the staff set.
func (c *Config) IsAdmin(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.Moderation.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
