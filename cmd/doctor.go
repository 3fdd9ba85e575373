package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/interchat-hq/interchat/internal/config"
	"github.com/interchat-hq/interchat/internal/store/sqlite"
	"github.com/interchat-hq/interchat/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("interchat doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	// Discord credentials
	fmt.Println()
	fmt.Println("  Discord:")
	checkSecret("Token", cfg.Discord.Token)
	if cfg.Discord.AppID != "" {
		fmt.Printf("    %-12s %s\n", "App ID:", cfg.Discord.AppID)
	} else {
		fmt.Printf("    %-12s (resolved from the bot user at startup)\n", "App ID:")
	}

	// Database
	fmt.Println()
	fmt.Println("  Database:")
	if cfg.IsManagedMode() {
		fmt.Printf("    %-12s managed (postgres)\n", "Mode:")
		checkPostgres(cfg.Database.PostgresDSN)
	} else {
		path := config.ExpandHome(cfg.Database.SQLitePath)
		fmt.Printf("    %-12s standalone (sqlite)\n", "Mode:")
		fmt.Printf("    %-12s %s", "Path:", path)
		if _, err := os.Stat(path); err != nil {
			fmt.Println(" (will be created)")
		} else {
			fmt.Println(" (OK)")
		}
		checkSQLite(path)
	}

	// Redis
	fmt.Println()
	fmt.Println("  Redis:")
	fmt.Printf("    %-12s %s db=%d\n", "Addr:", cfg.Redis.Addr, cfg.Redis.DB)
	checkRedis(cfg)

	// Content filter
	fmt.Println()
	fmt.Println("  Filter:")
	if cfg.Filter.NSFWEndpoint != "" {
		fmt.Printf("    %-12s %s (threshold %.2f)\n", "NSFW:", cfg.Filter.NSFWEndpoint, cfg.Filter.NSFWThreshold)
	} else {
		fmt.Printf("    %-12s disabled (no endpoint)\n", "NSFW:")
	}
	fmt.Printf("    %-12s %d term(s)\n", "Blocklist:", len(cfg.Filter.BlockedTerms))

	// Moderation
	fmt.Println()
	fmt.Println("  Moderation:")
	fmt.Printf("    %-12s %d configured\n", "Staff:", len(cfg.Moderation.AdminUserIDs))
	fmt.Printf("    %-12s %q (calls) / %q (bans)\n", "Sweeps:", cfg.Calls.SweepSchedule, cfg.Moderation.BanSweepSchedule)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-12s NOT SET\n", name+":")
		return
	}
	masked := value
	if len(value) > 8 {
		masked = value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkPostgres(dsn string) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK\n", "Status:")

	status, err := upgrade.Check(ctx, db)
	if err != nil {
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	if status.Compatible {
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", status.CurrentVersion)
	} else {
		fmt.Printf("    %-12s %s\n", "Schema:", status.Problem())
	}
}

func checkSQLite(path string) {
	db, err := sqlite.Open(path)
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var hubCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM hubs").Scan(&hubCount); err != nil {
		fmt.Printf("    %-12s SCHEMA CHECK FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK (%d hub(s))\n", "Status:", hubCount)
}

func checkRedis(cfg *config.Config) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	start := time.Now()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK (%s)\n", "Status:", time.Since(start).Round(time.Millisecond))
}
