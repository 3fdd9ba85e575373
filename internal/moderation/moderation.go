// Package moderation implements the staff workflow: call reports, the ban
// state machine over the store, and the flow that turns a report into bans.
package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/interchat-hq/interchat/internal/call"
	"github.com/interchat-hq/interchat/internal/store"
)

var (
	// ErrCallNotFound means the call was never made or its retention window
	// has passed.
	ErrCallNotFound = errors.New("no retained call for report")
	// ErrAlreadyReported refuses a second report against the same call.
	ErrAlreadyReported = errors.New("call already reported")
	// ErrReportNotFound means no report was filed or it has lapsed.
	ErrReportNotFound = errors.New("report not found")
	// ErrReportClosed refuses a state change on a dismissed or resolved
	// report.
	ErrReportClosed = errors.New("report already closed")
)

// ReportStatus is the lifecycle state of a call report.
type ReportStatus string

const (
	ReportOpen           ReportStatus = "OPEN"
	ReportDismissed      ReportStatus = "DISMISSED"
	ReportResolvedBanned ReportStatus = "RESOLVED_BANNED"
)

// Report is a user complaint about a call, retained alongside the ended
// call and its message ring.
type Report struct {
	CallID         string       `json:"call_id"`
	ReporterUserID string       `json:"reporter_user_id"`
	Reason         string       `json:"reason"`
	ReportedAt     time.Time    `json:"reported_at"`
	Status         ReportStatus `json:"status"`
	ResolvedBy     string       `json:"resolved_by,omitempty"`
	ResolvedAt     time.Time    `json:"resolved_at"`
	BannedSubjects []string     `json:"banned_subjects,omitempty"`
}

// CallDirectory is the slice of the call package the moderation workflow
// reads: retained call records and their message rings.
type CallDirectory interface {
	Find(ctx context.Context, callID string) (*call.Active, error)
	Messages(ctx context.Context, callID string) ([]call.RingEntry, error)
}

// Service carries the staff operations. All durable ban state goes through
// the store; report state lives in Redis under the call's retention window.
type Service struct {
	bans      store.BanStore
	calls     CallDirectory
	rdb       *redis.Client
	retention time.Duration
}

func NewService(bans store.BanStore, calls CallDirectory, rdb *redis.Client, retention time.Duration) *Service {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Service{bans: bans, calls: calls, rdb: rdb, retention: retention}
}
