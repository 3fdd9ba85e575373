package cmd

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/interchat-hq/interchat/internal/admission"
	"github.com/interchat-hq/interchat/internal/broadcast"
	"github.com/interchat-hq/interchat/internal/cache"
	"github.com/interchat-hq/interchat/internal/call"
	"github.com/interchat-hq/interchat/internal/config"
	"github.com/interchat-hq/interchat/internal/hubs"
	"github.com/interchat-hq/interchat/internal/interaction"
	"github.com/interchat-hq/interchat/internal/moderation"
	"github.com/interchat-hq/interchat/internal/processor"
	"github.com/interchat-hq/interchat/internal/rules"
	"github.com/interchat-hq/interchat/internal/sched"
	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/store/pg"
	"github.com/interchat-hq/interchat/internal/store/sqlite"
	"github.com/interchat-hq/interchat/internal/telemetry"
	"github.com/interchat-hq/interchat/internal/transport"
	"github.com/interchat-hq/interchat/internal/transport/discord"
	"github.com/interchat-hq/interchat/internal/upgrade"
	"github.com/interchat-hq/interchat/internal/webhooks"
)

func relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the relay (the default when no subcommand is given)",
		Run: func(cmd *cobra.Command, args []string) {
			runRelay()
		},
	}
}

func runRelay() {
	// Bootstrap logging from the flag alone; the config may refine it below.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: bootLevel(),
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.Discord.Token == "" {
		slog.Error("INTERCHAT_DISCORD_TOKEN is not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, terr := telemetry.Start(ctx, cfg.Telemetry)
		if terr != nil {
			slog.Error("telemetry startup failed", "error", terr)
			os.Exit(1)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Warn("telemetry shutdown error", "error", err)
			}
		}()
	}

	// Entity store, selected by database mode.
	var db *sql.DB
	var base store.Stores
	mode := "standalone"
	if cfg.IsManagedMode() {
		mode = "managed"
		db, err = pg.Open(cfg.Database.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		status, serr := upgrade.Check(ctx, db)
		if serr != nil {
			slog.Error("schema check failed", "error", serr)
			os.Exit(1)
		}
		if !status.Compatible {
			slog.Error("schema incompatible", "problem", status.Problem())
			os.Exit(1)
		}
		base = pg.NewStores(db)
	} else {
		path := config.ExpandHome(cfg.Database.SQLitePath)
		db, err = sqlite.Open(path)
		if err != nil {
			slog.Error("failed to open sqlite", "error", err, "path", path)
			os.Exit(1)
		}
		base = sqlite.NewStores(db)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis unreachable", "error", err, "addr", cfg.Redis.Addr)
		os.Exit(1)
	}
	defer rdb.Close()

	// Shared cache tier over the base stores. Mutations go through the
	// decorated Stores so cache entries drop the moment a row changes.
	resolver := cache.NewResolver(rdb, base, cfg.Relay.CacheTTLDuration())
	defer resolver.Close()
	stores := store.WithInvalidation(base, resolver)

	adapter, err := discord.New(cfg.Discord)
	if err != nil {
		slog.Error("failed to create discord adapter", "error", err)
		os.Exit(1)
	}

	prov := webhooks.NewProvisioner(adapter, stores.Connections, cfg.Discord.AppID)

	records := broadcast.NewRecordStore(rdb, cfg.Relay.BroadcastRetentionDuration())
	bcast := broadcast.New(adapter, adapter, prov, records, stores.Connections, broadcast.Config{
		FanoutTimeout:  cfg.Relay.FanoutTimeoutDuration(),
		MaxConcurrency: int64(cfg.Relay.FanoutMaxConcurrency),
	})
	defer bcast.Close()

	// Admission checks shared by the hub and call paths.
	spam := admission.NewSpamGuard(cfg.Relay.SpamWindowDuration(), cfg.Relay.SpamMaxMessages)
	var nsfw admission.NSFWDetector
	if cfg.Filter.NSFWEndpoint != "" {
		nsfw = admission.NewHTTPDetector(cfg.Filter.NSFWEndpoint, cfg.Filter.NSFWThreshold)
	}
	var globalFilter admission.ContentFilter
	if len(cfg.Filter.BlockedTerms) > 0 {
		globalFilter = admission.NewListFilter(cfg.Filter.BlockedTerms)
	}
	pipeline := admission.NewPipeline(stores.Bans, stores.Hubs, spam, nsfw, globalFilter)

	dir := call.NewDirectory(rdb)
	matchmaker := call.NewMatchmaker(dir, stores.Bans, stores.Connections, prov, adapter, call.Options{
		MaxWait:     cfg.Calls.MaxWaitDuration(),
		Cooldown:    cfg.Calls.CooldownDuration(),
		Retention:   cfg.Calls.RetentionDuration(),
		IdleTimeout: cfg.Calls.IdleTimeoutDuration(),
	})
	session := call.NewSession(dir, adapter, adapter, prov, call.SessionOptions{
		Spam:             spam,
		NSFW:             nsfw,
		Filter:           globalFilter,
		BlockedResponses: cfg.BlockedResponses,
		Retention:        cfg.Calls.RetentionDuration(),
		SendTimeout:      cfg.Relay.FanoutTimeoutDuration(),
		TypingRefractory: cfg.Calls.TypingRefractoryDuration(),
	})

	gate := rules.NewGate(rdb, stores.Acceptances, cfg.Relay.RulesPromptCooldownDuration())
	hubSvc := hubs.New(stores, prov, pipeline, cfg.Moderation.MaxHubsPerOwner)
	mod := moderation.NewService(stores.Bans, dir, rdb, cfg.Calls.RetentionDuration())

	reg := interaction.NewRegistry()
	interaction.NewHandlers(cfg, hubSvc, matchmaker, dir, mod, gate).Register(reg)

	proc := processor.New(processor.Deps{
		Config:      cfg,
		Resolver:    resolver,
		Stores:      stores,
		Gate:        gate,
		Admission:   pipeline,
		Broadcaster: bcast,
		Session:     session,
		Provisioner: prov,
		Notifier:    adapter,
		Fetcher:     adapter,
		Redis:       rdb,
		RulesPrompt: interaction.RulesNotice,
	})
	defer proc.Close()

	handlers := proc.Handlers()
	handlers.OnInteraction = func(ctx context.Context, in transport.Interaction) {
		reg.Dispatch(ctx, in)
	}
	if cfg.Telemetry.Enabled {
		handlers = telemetry.WrapHandlers(handlers)
	}
	adapter.SetHandlers(handlers)

	if err := adapter.Start(ctx); err != nil {
		slog.Error("failed to start discord adapter", "error", err)
		os.Exit(1)
	}

	if err := adapter.RegisterCommands(ctx, interaction.Definitions()); err != nil {
		// The relay still mirrors messages with stale commands; keep running.
		slog.Warn("slash command registration failed", "error", err)
	}

	// Background sweepers. Validate() has already vetted the expressions.
	if err := sched.Start(ctx, "call-sweep", cfg.Calls.SweepSchedule, matchmaker.Sweep); err != nil {
		slog.Error("call sweeper failed to start", "error", err)
		os.Exit(1)
	}
	if err := sched.Start(ctx, "ban-sweep", cfg.Moderation.BanSweepSchedule, mod.SweepExpiredBans); err != nil {
		slog.Error("ban sweeper failed to start", "error", err)
		os.Exit(1)
	}

	// Watch the config file so the dynamic lists apply without a restart.
	if watcher, werr := config.NewWatcher(cfgPath, cfg); werr != nil {
		slog.Warn("config watcher unavailable", "error", werr)
	} else if werr := watcher.Start(ctx); werr != nil {
		slog.Warn("config watch failed", "error", werr)
		watcher.Stop()
	} else {
		defer watcher.Stop()
	}

	slog.Info("interchat relay started",
		"version", Version,
		"mode", mode,
		"redis", cfg.Redis.Addr,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("graceful shutdown initiated", "signal", sig)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := adapter.Stop(stopCtx); err != nil {
		slog.Warn("discord shutdown error", "error", err)
	}
	// Deferred closes drain the broadcaster and release caches, stores, and
	// the exporter in reverse construction order.
}

func bootLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func setupLogging(lc config.LoggingConfig) {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if lc.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
