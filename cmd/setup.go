package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/interchat-hq/interchat/internal/config"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-run configuration wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup()
		},
	}
}

func runSetup() error {
	cfgPath := resolveConfigPath()
	fmt.Println("InterChat setup")
	fmt.Printf("Writing configuration to %s\n\n", cfgPath)

	if _, err := os.Stat(cfgPath); err == nil {
		overwrite := false
		confirm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title("A config file already exists. Overwrite it?").
				Value(&overwrite),
		))
		if err := confirm.Run(); err != nil {
			return setupAborted(err)
		}
		if !overwrite {
			fmt.Println("Keeping the existing config.")
			return nil
		}
	}

	cfg := config.Default()

	mode := "standalone"
	redisAddr := cfg.Redis.Addr
	logFormat := cfg.Logging.Format
	base := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Database mode").
			Description("Standalone keeps everything in a local SQLite file. Managed uses Postgres.").
			Options(
				huh.NewOption("Standalone (SQLite)", "standalone"),
				huh.NewOption("Managed (Postgres)", "managed"),
			).
			Value(&mode),
		huh.NewInput().
			Title("Redis address").
			Description("Shared cache, call queue, and broadcast records.").
			Placeholder("127.0.0.1:6379").
			Value(&redisAddr).
			Validate(notEmpty("redis address")),
		huh.NewSelect[string]().
			Title("Log format").
			Options(
				huh.NewOption("Text", "text"),
				huh.NewOption("JSON", "json"),
			).
			Value(&logFormat),
	))
	if err := base.Run(); err != nil {
		return setupAborted(err)
	}
	cfg.Database.Mode = mode
	cfg.Redis.Addr = redisAddr
	cfg.Logging.Format = logFormat

	if mode == "standalone" {
		sqlitePath := cfg.Database.SQLitePath
		pathForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("SQLite database path").
				Placeholder("~/.interchat/interchat.db").
				Value(&sqlitePath).
				Validate(notEmpty("path")),
		))
		if err := pathForm.Run(); err != nil {
			return setupAborted(err)
		}
		cfg.Database.SQLitePath = sqlitePath
	}

	adminIDs := ""
	maxHubs := strconv.Itoa(cfg.Moderation.MaxHubsPerOwner)
	nsfwEndpoint := ""
	modForm := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Staff user IDs").
			Description("Comma-separated user IDs allowed to use /mod commands. Leave empty to add later.").
			Value(&adminIDs),
		huh.NewInput().
			Title("Max hubs per owner").
			Value(&maxHubs).
			Validate(func(s string) error {
				n, err := strconv.Atoi(strings.TrimSpace(s))
				if err != nil || n < 1 {
					return errors.New("enter a number of 1 or more")
				}
				return nil
			}),
		huh.NewInput().
			Title("NSFW classifier endpoint").
			Description("Optional HTTP endpoint for attachment screening. Leave empty to disable.").
			Value(&nsfwEndpoint),
	))
	if err := modForm.Run(); err != nil {
		return setupAborted(err)
	}
	if ids := splitIDs(adminIDs); len(ids) > 0 {
		cfg.Moderation.AdminUserIDs = ids
	}
	cfg.Moderation.MaxHubsPerOwner, _ = strconv.Atoi(strings.TrimSpace(maxHubs))
	cfg.Filter.NSFWEndpoint = strings.TrimSpace(nsfwEndpoint)

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("\nConfig written to %s\n", cfgPath)

	// Secrets never go in the file; point at the env vars instead.
	fmt.Println("\nBefore starting the relay, export the secrets:")
	fmt.Println("  export INTERCHAT_DISCORD_TOKEN=...    # bot token")
	if mode == "managed" {
		fmt.Println("  export INTERCHAT_POSTGRES_DSN=...     # postgres connection string")
		fmt.Println("\nThen apply the schema and start:")
		fmt.Println("  interchat migrate up")
		fmt.Println("  interchat")
	} else {
		fmt.Println("\nThen start the relay:")
		fmt.Println("  interchat")
	}
	return nil
}

func setupAborted(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		fmt.Println("Setup cancelled.")
		return nil
	}
	return err
}

func notEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(what + " is required")
		}
		return nil
	}
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			out = append(out, id)
		}
	}
	return out
}
