package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/interchat-hq/interchat/internal/store"
)

// SQLiteUserStore persists users in SQLite.
type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{db: db}
}

// Upsert creates the user on first observation and refreshes the identity
// fields afterwards. Badges and donation totals are never clobbered here.
func (s *SQLiteUserStore) Upsert(ctx context.Context, u store.User) error {
	if u.Locale == "" {
		u.Locale = "en"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, avatar_url, locale, accepted_rules, badges, donation_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = excluded.display_name,
		   avatar_url   = excluded.avatar_url,
		   locale       = COALESCE(NULLIF(excluded.locale, ''), users.locale)`,
		u.ID, u.DisplayName, u.AvatarURL, u.Locale, u.AcceptedRules,
		encodeList(u.Badges), u.DonationCents, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteUserStore) Find(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	var badges string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, avatar_url, locale, accepted_rules, badges, donation_cents, created_at
		 FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &u.Locale, &u.AcceptedRules,
		&badges, &u.DonationCents, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.Badges = decodeList(badges)
	return &u, nil
}
