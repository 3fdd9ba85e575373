package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/interchat-hq/interchat/internal/call"
	"github.com/interchat-hq/interchat/internal/store"
)

const reportPrefix = "call:report:"

// FileReport opens a report against a retained call. One report per call;
// the report shares the call's retention window.
func (s *Service) FileReport(ctx context.Context, callID, reporterUserID, reason string) (*Report, error) {
	if _, err := s.calls.Find(ctx, callID); err != nil {
		if errors.Is(err, call.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}

	r := &Report{
		CallID:         callID,
		ReporterUserID: reporterUserID,
		Reason:         reason,
		ReportedAt:     time.Now().UTC(),
		Status:         ReportOpen,
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, reportPrefix+callID, raw, s.retention).Result()
	if err != nil {
		return nil, fmt.Errorf("file report: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyReported
	}
	slog.Info("call reported", "call_id", callID, "reporter", reporterUserID, "reason", reason)
	return r, nil
}

// GetReport returns the report filed against a call.
func (s *Service) GetReport(ctx context.Context, callID string) (*Report, error) {
	raw, err := s.rdb.Get(ctx, reportPrefix+callID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// DismissReport closes an OPEN report without action.
func (s *Service) DismissReport(ctx context.Context, callID, moderatorUserID string) error {
	r, err := s.GetReport(ctx, callID)
	if err != nil {
		return err
	}
	if r.Status != ReportOpen {
		return fmt.Errorf("%w: status %s", ErrReportClosed, r.Status)
	}
	r.Status = ReportDismissed
	r.ResolvedBy = moderatorUserID
	r.ResolvedAt = time.Now().UTC()
	if err := s.saveReport(ctx, r); err != nil {
		return err
	}
	slog.Info("report dismissed", "call_id", callID, "moderator", moderatorUserID)
	return nil
}

// ReportView bundles what staff see when reviewing a report: the report, the
// retained call, and its recent messages.
type ReportView struct {
	Report   *Report
	Call     *call.Active
	Messages []call.RingEntry
}

// ViewReport loads a report together with the retained call state.
func (s *Service) ViewReport(ctx context.Context, callID string) (*ReportView, error) {
	r, err := s.GetReport(ctx, callID)
	if err != nil {
		return nil, err
	}
	v := &ReportView{Report: r}
	if ac, err := s.calls.Find(ctx, callID); err == nil {
		v.Call = ac
	}
	if msgs, err := s.calls.Messages(ctx, callID); err == nil {
		v.Messages = msgs
	}
	return v, nil
}

// Target names one ban subject in a BanFromCall request.
type Target struct {
	Kind store.SubjectKind
	ID   string
}

// TargetResult reports the per-target outcome; Err is nil on success.
type TargetResult struct {
	Target Target
	Err    error
}

// BanFromCall bans the targets and resolves the call's report. Targets are
// processed independently; a failure on one never rolls back the others. The
// report transition happens after the bans and tolerates a lapsed report.
func (s *Service) BanFromCall(ctx context.Context, callID, moderatorUserID string, targets []Target, kind store.BanKind, duration time.Duration) ([]TargetResult, error) {
	results := make([]TargetResult, 0, len(targets))
	var banned []string
	for _, tgt := range targets {
		err := s.applyBan(ctx, moderatorUserID, tgt, callID, kind, duration)
		results = append(results, TargetResult{Target: tgt, Err: err})
		if err == nil {
			banned = append(banned, tgt.ID)
		}
	}

	r, err := s.GetReport(ctx, callID)
	if err != nil {
		if errors.Is(err, ErrReportNotFound) {
			slog.Warn("banned from call without a live report", "call_id", callID)
			return results, nil
		}
		return results, err
	}
	r.Status = ReportResolvedBanned
	r.ResolvedBy = moderatorUserID
	r.ResolvedAt = time.Now().UTC()
	r.BannedSubjects = append(r.BannedSubjects, banned...)
	if err := s.saveReport(ctx, r); err != nil {
		return results, err
	}
	slog.Info("report resolved with bans", "call_id", callID, "moderator", moderatorUserID, "banned", banned)
	return results, nil
}

func (s *Service) applyBan(ctx context.Context, moderatorUserID string, tgt Target, callID string, kind store.BanKind, duration time.Duration) error {
	req := BanRequest{
		ModeratorUserID: moderatorUserID,
		SubjectKind:     tgt.Kind,
		SubjectID:       tgt.ID,
		Reason:          fmt.Sprintf("reported call %s", callID),
		Kind:            kind,
		Duration:        duration,
	}
	_, err := s.CreateBan(ctx, req)
	return err
}

func (s *Service) saveReport(ctx context.Context, r *Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := s.rdb.Set(ctx, reportPrefix+r.CallID, raw, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
