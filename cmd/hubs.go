package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/interchat-hq/interchat/internal/config"
	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/store/pg"
	"github.com/interchat-hq/interchat/internal/store/sqlite"
)

func hubsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hubs",
		Short: "Inspect hubs without starting the relay",
	}
	cmd.AddCommand(hubsListCmd())
	cmd.AddCommand(hubsShowCmd())
	return cmd
}

// openStores connects to the configured entity store for one-shot commands.
func openStores() (store.Stores, *sql.DB, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return store.Stores{}, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.IsManagedMode() {
		db, err := pg.Open(cfg.Database.PostgresDSN)
		if err != nil {
			return store.Stores{}, nil, err
		}
		return pg.NewStores(db), db, nil
	}
	db, err := sqlite.Open(config.ExpandHome(cfg.Database.SQLitePath))
	if err != nil {
		return store.Stores{}, nil, err
	}
	return sqlite.NewStores(db), db, nil
}

func hubsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List hubs with member counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, db, err := openStores()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			all, err := st.Hubs.List(ctx, limit)
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("no hubs")
				return nil
			}

			fmt.Printf("%s  %s  %s  %s  %s\n",
				pad("NAME", 24), pad("MEMBERS", 7), pad("VISIBILITY", 10), pad("CREATED", 10), "DESCRIPTION")
			for _, h := range all {
				conns, err := st.Connections.FindByHub(ctx, h.ID)
				if err != nil {
					return err
				}
				visibility := "public"
				if h.Private {
					visibility = "private"
				}
				fmt.Printf("%s  %s  %s  %s  %s\n",
					pad(h.Name, 24),
					pad(fmt.Sprintf("%d", len(conns)), 7),
					pad(visibility, 10),
					pad(h.CreatedAt.Format("2006-01-02"), 10),
					runewidth.Truncate(h.Description, 48, "..."),
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum hubs to list (default 100)")
	return cmd
}

func hubsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one hub's rules and connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, db, err := openStores()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			h, err := st.Hubs.FindByName(ctx, args[0])
			if err != nil {
				return fmt.Errorf("find hub %q: %w", args[0], err)
			}

			fmt.Printf("Hub:      %s (%s)\n", h.Name, h.ID)
			fmt.Printf("Owner:    %s\n", h.OwnerUserID)
			fmt.Printf("Private:  %v\n", h.Private)
			fmt.Printf("Settings: %s\n", settingsString(h.Settings))
			fmt.Printf("Created:  %s\n", h.CreatedAt.Format(time.RFC3339))
			if h.Description != "" {
				fmt.Printf("About:    %s\n", h.Description)
			}

			if len(h.Rules) > 0 {
				fmt.Println("\nRules:")
				for i, r := range h.Rules {
					fmt.Printf("  %d. %s\n", i+1, r)
				}
			}

			conns, err := st.Connections.FindByHub(ctx, h.ID)
			if err != nil {
				return err
			}
			fmt.Printf("\nConnections (%d):\n", len(conns))
			for _, c := range conns {
				state := "connected"
				if !c.Connected {
					state = "paused"
				}
				webhook := "webhook ready"
				if c.WebhookURL == "" {
					webhook = "no webhook"
				}
				fmt.Printf("  %s  server=%s  %s, %s\n", pad(c.ChannelID, 20), c.ServerID, state, webhook)
			}
			return nil
		},
	}
}

func settingsString(s store.HubSettings) string {
	var parts []string
	if s.Has(store.SettingBlockNSFW) {
		parts = append(parts, "block-nsfw")
	}
	if s.Has(store.SettingSpamFilter) {
		parts = append(parts, "spam-filter")
	}
	if s.Has(store.SettingBlockInvites) {
		parts = append(parts, "block-invites")
	}
	if s.Has(store.SettingHideLinks) {
		parts = append(parts, "hide-links")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// pad fits s into width terminal cells, truncating wide names instead of
// breaking column alignment.
func pad(s string, width int) string {
	return runewidth.FillRight(runewidth.Truncate(s, width, "..."), width)
}
