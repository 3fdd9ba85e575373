package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/interchat-hq/interchat/internal/store"
)

// PGBanStore persists the ban state machine. A partial unique index on
// (subject_kind, subject_id) WHERE status = 'ACTIVE' backs the one-active-ban
// invariant; the guarded statements below keep both backends behaving the
// same without parsing driver error codes.
type PGBanStore struct {
	db *sql.DB
}

func NewPGBanStore(db *sql.DB) *PGBanStore {
	return &PGBanStore{db: db}
}

const banColumns = `id, subject_kind, subject_id, moderator_user_id, reason, kind, status, created_at, expires_at, revoked_by, revoked_at`

func scanBan(row interface{ Scan(...any) error }) (*store.Ban, error) {
	var (
		b         store.Ban
		expiresAt sql.NullTime
		revokedBy sql.NullString
		revokedAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.SubjectKind, &b.SubjectID, &b.ModeratorUserID,
		&b.Reason, &b.Kind, &b.Status, &b.CreatedAt, &expiresAt, &revokedBy, &revokedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		b.ExpiresAt = expiresAt.Time
	}
	if revokedBy.Valid {
		b.RevokedBy = revokedBy.String
	}
	if revokedAt.Valid {
		b.RevokedAt = revokedAt.Time
	}
	return &b, nil
}

func (s *PGBanStore) FindActive(ctx context.Context, kind store.SubjectKind, subjectID string) (*store.Ban, error) {
	b, err := scanBan(s.db.QueryRowContext(ctx,
		`SELECT `+banColumns+` FROM bans
		 WHERE subject_kind = $1 AND subject_id = $2 AND status = 'ACTIVE'`,
		kind, subjectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active ban: %w", err)
	}
	if b.EffectiveStatus(time.Now()) != store.BanActive {
		// Overdue TEMPORARY ban that the sweeper has not rewritten yet.
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (s *PGBanStore) Create(ctx context.Context, b store.Ban) error {
	if b.ID == "" {
		b.ID = uuid.Must(uuid.NewV7()).String()
	}
	if b.Status == "" {
		b.Status = store.BanActive
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	var expiresAt sql.NullTime
	if !b.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: b.ExpiresAt, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ban create: %w", err)
	}
	defer tx.Rollback()

	// Stored-ACTIVE rows whose deadline already passed must not block a new
	// ban, so rewrite them first inside the same transaction.
	_, err = tx.ExecContext(ctx,
		`UPDATE bans SET status = 'EXPIRED'
		 WHERE subject_kind = $1 AND subject_id = $2 AND status = 'ACTIVE'
		   AND kind = 'TEMPORARY' AND expires_at <= $3`,
		b.SubjectKind, b.SubjectID, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("expire stale bans: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO bans (`+banColumns+`)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, NULL
		 WHERE NOT EXISTS (
		   SELECT 1 FROM bans
		   WHERE subject_kind = $2 AND subject_id = $3 AND status = 'ACTIVE'
		 )`,
		b.ID, b.SubjectKind, b.SubjectID, b.ModeratorUserID,
		b.Reason, b.Kind, b.Status, b.CreatedAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("create ban: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrActiveBanExists
	}
	return tx.Commit()
}

func (s *PGBanStore) Revoke(ctx context.Context, banID, moderatorUserID string) error {
	// Only a ban that is still effectively ACTIVE may be revoked; an overdue
	// TEMPORARY one expires instead.
	res, err := s.db.ExecContext(ctx,
		`UPDATE bans SET status = 'REVOKED', revoked_by = $2, revoked_at = $3
		 WHERE id = $1 AND status = 'ACTIVE'
		   AND (kind = 'PERMANENT' OR expires_at > $3)`,
		banID, moderatorUserID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("revoke ban: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotRevokable
	}
	return nil
}

func (s *PGBanStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bans SET status = 'EXPIRED'
		 WHERE status = 'ACTIVE' AND kind = 'TEMPORARY' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire due bans: %w", err)
	}
	return res.RowsAffected()
}

func (s *PGBanStore) ListRecent(ctx context.Context, limit int) ([]store.Ban, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+banColumns+` FROM bans ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent bans: %w", err)
	}
	defer rows.Close()

	var out []store.Ban
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
