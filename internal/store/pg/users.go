package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/interchat-hq/interchat/internal/store"
)

// PGUserStore persists users in Postgres.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

// Upsert creates the user on first observation and refreshes the identity
// fields afterwards. Badges and donation totals are never clobbered here.
func (s *PGUserStore) Upsert(ctx context.Context, u store.User) error {
	if u.Locale == "" {
		u.Locale = "en"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, avatar_url, locale, accepted_rules, badges, donation_cents, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   display_name = EXCLUDED.display_name,
		   avatar_url   = EXCLUDED.avatar_url,
		   locale       = COALESCE(NULLIF(EXCLUDED.locale, ''), users.locale)`,
		u.ID, u.DisplayName, u.AvatarURL, u.Locale, u.AcceptedRules,
		pq.Array(u.Badges), u.DonationCents, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*store.User, error) {
	var u store.User
	var badges []string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, avatar_url, locale, accepted_rules, badges, donation_cents, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &u.Locale, &u.AcceptedRules,
		pq.Array(&badges), &u.DonationCents, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.Badges = badges
	return &u, nil
}
