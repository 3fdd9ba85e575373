package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/interchat-hq/interchat/internal/store"
)

// PGHubStore persists hubs, anti-swear rule sets, and hub blacklists.
type PGHubStore struct {
	db *sql.DB
}

func NewPGHubStore(db *sql.DB) *PGHubStore {
	return &PGHubStore{db: db}
}

const hubColumns = `id, name, description, owner_user_id, private, rules, icon_url, settings, created_at`

// Create inserts the hub, refusing duplicate names without relying on
// driver-specific error codes.
func (s *PGHubStore) Create(ctx context.Context, h store.Hub) error {
	if h.ID == "" {
		h.ID = uuid.Must(uuid.NewV7()).String()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO hubs (`+hubColumns+`)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		 WHERE NOT EXISTS (SELECT 1 FROM hubs WHERE lower(name) = lower($2))`,
		h.ID, h.Name, h.Description, h.OwnerUserID, h.Private,
		pq.Array(h.Rules), h.IconURL, int64(h.Settings), h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrDuplicateName
	}
	return nil
}

func (s *PGHubStore) Find(ctx context.Context, id string) (*store.Hub, error) {
	return s.findWhere(ctx, "id = $1", id)
}

func (s *PGHubStore) FindByName(ctx context.Context, name string) (*store.Hub, error) {
	return s.findWhere(ctx, "lower(name) = lower($1)", name)
}

func (s *PGHubStore) findWhere(ctx context.Context, where string, arg any) (*store.Hub, error) {
	var h store.Hub
	var rules []string
	var settings int64
	err := s.db.QueryRowContext(ctx,
		`SELECT `+hubColumns+` FROM hubs WHERE `+where, arg,
	).Scan(&h.ID, &h.Name, &h.Description, &h.OwnerUserID, &h.Private,
		pq.Array(&rules), &h.IconURL, &settings, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find hub: %w", err)
	}
	h.Rules = rules
	h.Settings = store.HubSettings(settings)
	return &h, nil
}

func (s *PGHubStore) Update(ctx context.Context, h store.Hub) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE hubs SET description = $2, private = $3, rules = $4, icon_url = $5, settings = $6
		 WHERE id = $1`,
		h.ID, h.Description, h.Private, pq.Array(h.Rules), h.IconURL, int64(h.Settings),
	)
	if err != nil {
		return fmt.Errorf("update hub: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes the hub. Connections, acceptances, blacklist entries, and
// anti-swear rules go with it via ON DELETE CASCADE.
func (s *PGHubStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hubs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete hub: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGHubStore) CountByOwner(ctx context.Context, ownerUserID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hubs WHERE owner_user_id = $1`, ownerUserID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count hubs: %w", err)
	}
	return n, nil
}

func (s *PGHubStore) List(ctx context.Context, limit int) ([]store.Hub, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+hubColumns+` FROM hubs ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list hubs: %w", err)
	}
	defer rows.Close()

	var out []store.Hub
	for rows.Next() {
		var h store.Hub
		var rules []string
		var settings int64
		if err := rows.Scan(&h.ID, &h.Name, &h.Description, &h.OwnerUserID, &h.Private,
			pq.Array(&rules), &h.IconURL, &settings, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Rules = rules
		h.Settings = store.HubSettings(settings)
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- anti-swear rules ---

func (s *PGHubStore) ListAntiSwearRules(ctx context.Context, hubID string) ([]store.AntiSwearRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hub_id, name, patterns, actions FROM hub_antiswear_rules WHERE hub_id = $1 ORDER BY name`,
		hubID,
	)
	if err != nil {
		return nil, fmt.Errorf("list antiswear rules: %w", err)
	}
	defer rows.Close()

	var out []store.AntiSwearRule
	for rows.Next() {
		var r store.AntiSwearRule
		var patterns, actions []string
		if err := rows.Scan(&r.ID, &r.HubID, &r.Name, pq.Array(&patterns), pq.Array(&actions)); err != nil {
			return nil, err
		}
		r.Patterns = patterns
		r.Actions = actions
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGHubStore) UpsertAntiSwearRule(ctx context.Context, r store.AntiSwearRule) error {
	if r.ID == "" {
		r.ID = uuid.Must(uuid.NewV7()).String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hub_antiswear_rules (id, hub_id, name, patterns, actions)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, patterns = EXCLUDED.patterns, actions = EXCLUDED.actions`,
		r.ID, r.HubID, r.Name, pq.Array(r.Patterns), pq.Array(r.Actions),
	)
	if err != nil {
		return fmt.Errorf("upsert antiswear rule: %w", err)
	}
	return nil
}

func (s *PGHubStore) DeleteAntiSwearRule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM hub_antiswear_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete antiswear rule: %w", err)
	}
	return nil
}

// --- hub blacklist ---

func (s *PGHubStore) FindBlacklistEntry(ctx context.Context, hubID, subjectID string) (*store.BlacklistEntry, error) {
	var e store.BlacklistEntry
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT hub_id, subject_kind, subject_id, reason, moderator_user_id, created_at, expires_at
		 FROM hub_blacklist WHERE hub_id = $1 AND subject_id = $2`,
		hubID, subjectID,
	).Scan(&e.HubID, &e.SubjectKind, &e.SubjectID, &e.Reason, &e.ModeratorUserID, &e.CreatedAt, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find blacklist entry: %w", err)
	}
	if expires.Valid {
		e.ExpiresAt = expires.Time
	}
	return &e, nil
}

func (s *PGHubStore) AddBlacklistEntry(ctx context.Context, e store.BlacklistEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var expires any
	if !e.ExpiresAt.IsZero() {
		expires = e.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hub_blacklist (hub_id, subject_kind, subject_id, reason, moderator_user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (hub_id, subject_id) DO UPDATE SET
		   reason = EXCLUDED.reason, moderator_user_id = EXCLUDED.moderator_user_id, expires_at = EXCLUDED.expires_at`,
		e.HubID, e.SubjectKind, e.SubjectID, e.Reason, e.ModeratorUserID, e.CreatedAt, expires,
	)
	if err != nil {
		return fmt.Errorf("add blacklist entry: %w", err)
	}
	return nil
}

func (s *PGHubStore) RemoveBlacklistEntry(ctx context.Context, hubID, subjectID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM hub_blacklist WHERE hub_id = $1 AND subject_id = $2`, hubID, subjectID)
	if err != nil {
		return fmt.Errorf("remove blacklist entry: %w", err)
	}
	return nil
}
