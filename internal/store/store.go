package store

import (
	"context"
	"time"
)

// UserStore persists lazily-created user records.
type UserStore interface {
	Upsert(ctx context.Context, u User) error
	Find(ctx context.Context, id string) (*User, error)
}

// HubStore persists hubs, their anti-swear rule sets, and their blacklists.
type HubStore interface {
	Create(ctx context.Context, h Hub) error
	Find(ctx context.Context, id string) (*Hub, error)
	FindByName(ctx context.Context, name string) (*Hub, error)
	Update(ctx context.Context, h Hub) error
	// Delete cascades to the hub's connections, anti-swear rules, blacklist
	// entries, and rules acceptances.
	Delete(ctx context.Context, id string) error
	CountByOwner(ctx context.Context, ownerUserID string) (int, error)
	// List returns hubs newest first, at most limit (0 means a server-chosen
	// default).
	List(ctx context.Context, limit int) ([]Hub, error)

	ListAntiSwearRules(ctx context.Context, hubID string) ([]AntiSwearRule, error)
	UpsertAntiSwearRule(ctx context.Context, r AntiSwearRule) error
	DeleteAntiSwearRule(ctx context.Context, id string) error

	FindBlacklistEntry(ctx context.Context, hubID, subjectID string) (*BlacklistEntry, error)
	AddBlacklistEntry(ctx context.Context, e BlacklistEntry) error
	RemoveBlacklistEntry(ctx context.Context, hubID, subjectID string) error
}

// ConnectionStore persists channel-to-hub bindings.
type ConnectionStore interface {
	Find(ctx context.Context, channelID string) (*Connection, error)
	FindByHub(ctx context.Context, hubID string) ([]Connection, error)
	FindByServer(ctx context.Context, serverID string) ([]Connection, error)
	Upsert(ctx context.Context, c Connection) error
	SetWebhookURL(ctx context.Context, channelID, url string) error
	SetConnected(ctx context.Context, channelID string, connected bool) error
	Touch(ctx context.Context, channelID string, at time.Time) error
	Delete(ctx context.Context, channelID string) error
	// DeleteByServer removes every connection of a host server, used when the
	// bot is removed from a server.
	DeleteByServer(ctx context.Context, serverID string) (int64, error)
}

// AcceptanceStore persists per-user, per-hub rules acceptances.
type AcceptanceStore interface {
	Find(ctx context.Context, userID, hubID string) (*RulesAcceptance, error)
	Create(ctx context.Context, userID, hubID string) error
}

// BanStore persists the ban state machine.
type BanStore interface {
	// FindActive returns the subject's ACTIVE ban, with lazy expiry applied:
	// a TEMPORARY ban past its deadline is reported as ErrNotFound.
	FindActive(ctx context.Context, kind SubjectKind, subjectID string) (*Ban, error)
	// Create refuses with ErrActiveBanExists when an ACTIVE ban already
	// covers the subject.
	Create(ctx context.Context, b Ban) error
	// Revoke moves an ACTIVE ban to REVOKED; anything else fails
	// ErrNotRevokable.
	Revoke(ctx context.Context, banID, moderatorUserID string) error
	// ExpireDue rewrites overdue TEMPORARY bans to EXPIRED and returns how
	// many rows changed. Idempotent.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]Ban, error)
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Users       UserStore
	Hubs        HubStore
	Connections ConnectionStore
	Acceptances AcceptanceStore
	Bans        BanStore
}
