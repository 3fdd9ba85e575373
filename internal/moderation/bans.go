package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/interchat-hq/interchat/internal/store"
)

// BanRequest describes one ban to create. Duration applies to TEMPORARY
// bans only.
type BanRequest struct {
	ModeratorUserID string
	SubjectKind     store.SubjectKind
	SubjectID       string
	Reason          string
	Kind            store.BanKind
	Duration        time.Duration
}

// CreateBan validates the request and writes an ACTIVE ban. The store
// refuses with store.ErrActiveBanExists when the subject already carries
// one; callers treat that as done.
func (s *Service) CreateBan(ctx context.Context, req BanRequest) (*store.Ban, error) {
	if req.SubjectID == "" {
		return nil, fmt.Errorf("ban subject id is required")
	}
	if req.Kind == store.BanTemporary && req.Duration <= 0 {
		return nil, fmt.Errorf("temporary ban needs a duration")
	}

	now := time.Now().UTC()
	b := store.Ban{
		ID:              uuid.Must(uuid.NewV7()).String(),
		SubjectKind:     req.SubjectKind,
		SubjectID:       req.SubjectID,
		ModeratorUserID: req.ModeratorUserID,
		Reason:          req.Reason,
		Kind:            req.Kind,
		Status:          store.BanActive,
		CreatedAt:       now,
	}
	if req.Kind == store.BanTemporary {
		b.ExpiresAt = now.Add(req.Duration)
	}
	if err := s.bans.Create(ctx, b); err != nil {
		return nil, err
	}
	slog.Info("ban created",
		"ban_id", b.ID, "subject_kind", b.SubjectKind, "subject_id", b.SubjectID,
		"kind", b.Kind, "moderator", b.ModeratorUserID)
	return &b, nil
}

// RevokeBan lifts an ACTIVE ban. store.ErrNotRevokable for anything else.
func (s *Service) RevokeBan(ctx context.Context, banID, moderatorUserID string) error {
	if err := s.bans.Revoke(ctx, banID, moderatorUserID); err != nil {
		return err
	}
	slog.Info("ban revoked", "ban_id", banID, "moderator", moderatorUserID)
	return nil
}

// ActiveBan returns the subject's ACTIVE ban with lazy expiry applied, or
// store.ErrNotFound.
func (s *Service) ActiveBan(ctx context.Context, kind store.SubjectKind, subjectID string) (*store.Ban, error) {
	return s.bans.FindActive(ctx, kind, subjectID)
}

// RecentBans lists the latest bans for the staff overview.
func (s *Service) RecentBans(ctx context.Context, limit int) ([]store.Ban, error) {
	return s.bans.ListRecent(ctx, limit)
}

// SweepExpiredBans rewrites overdue TEMPORARY bans to EXPIRED. Lazy expiry
// already hides them from reads; the sweep keeps the stored rows honest.
func (s *Service) SweepExpiredBans(ctx context.Context) {
	n, err := s.bans.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		slog.Warn("ban sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("expired overdue bans", "count", n)
	}
}
