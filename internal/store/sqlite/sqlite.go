// Package sqlite implements the entity stores on an embedded SQLite database
// via the CGo-free modernc driver. Used in standalone mode where operators run
// the relay without a Postgres server; the schema is created on open.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/interchat-hq/interchat/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id             TEXT PRIMARY KEY,
	display_name   TEXT NOT NULL DEFAULT '',
	avatar_url     TEXT NOT NULL DEFAULT '',
	locale         TEXT NOT NULL DEFAULT 'en',
	accepted_rules INTEGER NOT NULL DEFAULT 0,
	badges         TEXT NOT NULL DEFAULT '[]',
	donation_cents INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS hubs (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	owner_user_id TEXT NOT NULL,
	private       INTEGER NOT NULL DEFAULT 0,
	rules         TEXT NOT NULL DEFAULT '[]',
	icon_url      TEXT NOT NULL DEFAULT '',
	settings      INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS hubs_name_lower ON hubs(lower(name));

CREATE TABLE IF NOT EXISTS connections (
	id          TEXT PRIMARY KEY,
	channel_id  TEXT NOT NULL UNIQUE,
	server_id   TEXT NOT NULL,
	hub_id      TEXT NOT NULL REFERENCES hubs(id) ON DELETE CASCADE,
	connected   INTEGER NOT NULL DEFAULT 1,
	webhook_url TEXT NOT NULL DEFAULT '',
	compact     INTEGER NOT NULL DEFAULT 0,
	embed_color TEXT NOT NULL DEFAULT '',
	invite_url  TEXT NOT NULL DEFAULT '',
	last_active TIMESTAMP NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS connections_hub ON connections(hub_id);
CREATE INDEX IF NOT EXISTS connections_server ON connections(server_id);

CREATE TABLE IF NOT EXISTS hub_rules_acceptances (
	user_id     TEXT NOT NULL,
	hub_id      TEXT NOT NULL REFERENCES hubs(id) ON DELETE CASCADE,
	accepted_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, hub_id)
);

CREATE TABLE IF NOT EXISTS bans (
	id                TEXT PRIMARY KEY,
	subject_kind      TEXT NOT NULL,
	subject_id        TEXT NOT NULL,
	moderator_user_id TEXT NOT NULL,
	reason            TEXT NOT NULL DEFAULT '',
	kind              TEXT NOT NULL,
	status            TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL,
	expires_at        TIMESTAMP,
	revoked_by        TEXT,
	revoked_at        TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS bans_active_subject
	ON bans(subject_kind, subject_id) WHERE status = 'ACTIVE';
CREATE INDEX IF NOT EXISTS bans_created ON bans(created_at);

CREATE TABLE IF NOT EXISTS hub_blacklist (
	hub_id            TEXT NOT NULL REFERENCES hubs(id) ON DELETE CASCADE,
	subject_kind      TEXT NOT NULL,
	subject_id        TEXT NOT NULL,
	reason            TEXT NOT NULL DEFAULT '',
	moderator_user_id TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL,
	expires_at        TIMESTAMP,
	PRIMARY KEY (hub_id, subject_id)
);

CREATE TABLE IF NOT EXISTS hub_antiswear_rules (
	id       TEXT PRIMARY KEY,
	hub_id   TEXT NOT NULL REFERENCES hubs(id) ON DELETE CASCADE,
	name     TEXT NOT NULL,
	patterns TEXT NOT NULL DEFAULT '[]',
	actions  TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS antiswear_hub ON hub_antiswear_rules(hub_id);
`

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" is accepted for tests.
func Open(path string) (*sql.DB, error) {
	if !strings.Contains(path, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	// _time_format=sqlite stores time.Time in a form SQLite's datetime()
	// understands, which the expiry comparisons below depend on.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer anyway, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by SQLite.
func NewStores(db *sql.DB) store.Stores {
	return store.Stores{
		Users:       NewSQLiteUserStore(db),
		Hubs:        NewSQLiteHubStore(db),
		Connections: NewSQLiteConnectionStore(db),
		Acceptances: NewSQLiteAcceptanceStore(db),
		Bans:        NewSQLiteBanStore(db),
	}
}

// encodeList stores a string slice as a JSON array; SQLite has no native
// array type.
func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
