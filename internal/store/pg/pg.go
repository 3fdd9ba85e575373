// Package pg implements the entity stores on Postgres via the pgx stdlib
// driver. Used in managed mode; schema is maintained by the migrate command.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/interchat-hq/interchat/internal/store"
)

// Open connects with the pgx stdlib driver and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by Postgres.
func NewStores(db *sql.DB) store.Stores {
	return store.Stores{
		Users:       NewPGUserStore(db),
		Hubs:        NewPGHubStore(db),
		Connections: NewPGConnectionStore(db),
		Acceptances: NewPGAcceptanceStore(db),
		Bans:        NewPGBanStore(db),
	}
}
