package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/interchat-hq/interchat/internal/store"
)

// PGAcceptanceStore persists per-user, per-hub rules acceptances.
type PGAcceptanceStore struct {
	db *sql.DB
}

func NewPGAcceptanceStore(db *sql.DB) *PGAcceptanceStore {
	return &PGAcceptanceStore{db: db}
}

func (s *PGAcceptanceStore) Find(ctx context.Context, userID, hubID string) (*store.RulesAcceptance, error) {
	var a store.RulesAcceptance
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, hub_id, accepted_at FROM hub_rules_acceptances
		 WHERE user_id = $1 AND hub_id = $2`, userID, hubID,
	).Scan(&a.UserID, &a.HubID, &a.AcceptedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find acceptance: %w", err)
	}
	return &a, nil
}

func (s *PGAcceptanceStore) Create(ctx context.Context, userID, hubID string) error {
	// Accepting twice is a no-op; the first acceptance timestamp wins.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hub_rules_acceptances (user_id, hub_id, accepted_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, hub_id) DO NOTHING`,
		userID, hubID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("create acceptance: %w", err)
	}
	return nil
}
