package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/interchat-hq/interchat/internal/store"
)

// SQLiteHubStore persists hubs, anti-swear rule sets, and hub blacklists.
type SQLiteHubStore struct {
	db *sql.DB
}

func NewSQLiteHubStore(db *sql.DB) *SQLiteHubStore {
	return &SQLiteHubStore{db: db}
}

const hubColumns = `id, name, description, owner_user_id, private, rules, icon_url, settings, created_at`

// Create inserts the hub, refusing duplicate names without relying on
// driver-specific error codes.
func (s *SQLiteHubStore) Create(ctx context.Context, h store.Hub) error {
	if h.ID == "" {
		h.ID = uuid.Must(uuid.NewV7()).String()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO hubs (`+hubColumns+`)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (SELECT 1 FROM hubs WHERE lower(name) = lower(?))`,
		h.ID, h.Name, h.Description, h.OwnerUserID, h.Private,
		encodeList(h.Rules), h.IconURL, int64(h.Settings), h.CreatedAt, h.Name,
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

func (s *SQLiteHubStore) Find(ctx context.Context, id string) (*store.Hub, error) {
	return s.findWhere(ctx, "id = ?", id)
}

func (s *SQLiteHubStore) FindByName(ctx context.Context, name string) (*store.Hub, error) {
	return s.findWhere(ctx, "lower(name) = lower(?)", name)
}

func (s *SQLiteHubStore) findWhere(ctx context.Context, where string, arg any) (*store.Hub, error) {
	var h store.Hub
	var rules string
	var settings int64
	err := s.db.QueryRowContext(ctx,
		`SELECT `+hubColumns+` FROM hubs WHERE `+where, arg,
	).Scan(&h.ID, &h.Name, &h.Description, &h.OwnerUserID, &h.Private,
		&rules, &h.IconURL, &settings, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find hub: %w", err)
	}
	h.Rules = decodeList(rules)
	h.Settings = store.HubSettings(settings)
	return &h, nil
}

func (s *SQLiteHubStore) Update(ctx context.Context, h store.Hub) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE hubs SET description = ?, private = ?, rules = ?, icon_url = ?, settings = ?
		 WHERE id = ?`,
		h.Description, h.Private, encodeList(h.Rules), h.IconURL, int64(h.Settings), h.ID,
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
func (s *SQLiteHubStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hubs WHERE id = ?`, id)
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

func (s *SQLiteHubStore) CountByOwner(ctx context.Context, ownerUserID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hubs WHERE owner_user_id = ?`, ownerUserID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count hubs: %w", err)
	}
	return n, nil
}

func (s *SQLiteHubStore) List(ctx context.Context, limit int) ([]store.Hub, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+hubColumns+` FROM hubs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list hubs: %w", err)
	}
	defer rows.Close()

	var out []store.Hub
	for rows.Next() {
		var h store.Hub
		var rules string
		var settings int64
		if err := rows.Scan(&h.ID, &h.Name, &h.Description, &h.OwnerUserID, &h.Private,
			&rules, &h.IconURL, &settings, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Rules = decodeList(rules)
		h.Settings = store.HubSettings(settings)
		out = append(out, h)
	}
	return out, rows.Err()
}

// --- anti-swear rules ---

func (s *SQLiteHubStore) ListAntiSwearRules(ctx context.Context, hubID string) ([]store.AntiSwearRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hub_id, name, patterns, actions FROM hub_antiswear_rules WHERE hub_id = ? ORDER BY name`,
		hubID,
	)
	if err != nil {
		return nil, fmt.Errorf("list antiswear rules: %w", err)
	}
	defer rows.Close()

	var out []store.AntiSwearRule
	for rows.Next() {
		var r store.AntiSwearRule
		var patterns, actions string
		if err := rows.Scan(&r.ID, &r.HubID, &r.Name, &patterns, &actions); err != nil {
			return nil, err
		}
		r.Patterns = decodeList(patterns)
		r.Actions = decodeList(actions)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteHubStore) UpsertAntiSwearRule(ctx context.Context, r store.AntiSwearRule) error {
	if r.ID == "" {
		r.ID = uuid.Must(uuid.NewV7()).String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hub_antiswear_rules (id, hub_id, name, patterns, actions)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, patterns = excluded.patterns, actions = excluded.actions`,
		r.ID, r.HubID, r.Name, encodeList(r.Patterns), encodeList(r.Actions),
	)
	if err != nil {
		return fmt.Errorf("upsert antiswear rule: %w", err)
	}
	return nil
}

func (s *SQLiteHubStore) DeleteAntiSwearRule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM hub_antiswear_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete antiswear rule: %w", err)
	}
	return nil
}

// --- hub blacklist ---

func (s *SQLiteHubStore) FindBlacklistEntry(ctx context.Context, hubID, subjectID string) (*store.BlacklistEntry, error) {
	var e store.BlacklistEntry
	var expires sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT hub_id, subject_kind, subject_id, reason, moderator_user_id, created_at, expires_at
		 FROM hub_blacklist WHERE hub_id = ? AND subject_id = ?`,
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

func (s *SQLiteHubStore) AddBlacklistEntry(ctx context.Context, e store.BlacklistEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var expires any
	if !e.ExpiresAt.IsZero() {
		expires = e.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hub_blacklist (hub_id, subject_kind, subject_id, reason, moderator_user_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (hub_id, subject_id) DO UPDATE SET
		   reason = excluded.reason, moderator_user_id = excluded.moderator_user_id, expires_at = excluded.expires_at`,
		e.HubID, e.SubjectKind, e.SubjectID, e.Reason, e.ModeratorUserID, e.CreatedAt, expires,
	)
	if err != nil {
		return fmt.Errorf("add blacklist entry: %w", err)
	}
	return nil
}

func (s *SQLiteHubStore) RemoveBlacklistEntry(ctx context.Context, hubID, subjectID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM hub_blacklist WHERE hub_id = ? AND subject_id = ?`, hubID, subjectID)
	if err != nil {
		return fmt.Errorf("remove blacklist entry: %w", err)
	}
	return nil
}
