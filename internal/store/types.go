// Package store defines the typed entities of the relay and the narrow
// persistence API over them. Implementations live in store/pg (managed mode)
// and store/sqlite (standalone mode); the rest of the codebase depends only
// on the interfaces here.
package store

import "time"

// User is a chat-platform account observed by the relay. Created lazily on
// first observation, mutated by self-service commands and moderation, never
// deleted.
type User struct {
	ID            string
	DisplayName   string
	AvatarURL     string
	Locale        string // BCP-47, default "en"
	AcceptedRules bool   // process-wide terms toggle, informational only
	Badges        []string
	DonationCents int64
	CreatedAt     time.Time
}

// HubSettings is a bitmask of per-hub policy switches.
type HubSettings uint32

const (
	SettingBlockNSFW HubSettings = 1 << iota
	SettingSpamFilter
	SettingBlockInvites
	SettingHideLinks
)

// Has reports whether all given switches are set.
func (s HubSettings) Has(flag HubSettings) bool { return s&flag == flag }

// With returns the settings with the given switches set.
func (s HubSettings) With(flag HubSettings) HubSettings { return s | flag }

// Without returns the settings with the given switches cleared.
func (s HubSettings) Without(flag HubSettings) HubSettings { return s &^ flag }

// Hub is a named logical chat space joining multiple host-server channels
// into one mirrored conversation.
type Hub struct {
	ID          string
	Name        string // unique across all hubs, at most 32 chars
	Description string
	OwnerUserID string
	Private     bool
	Rules       []string // ordered; non-empty requires per-user acceptance
	IconURL     string
	Settings    HubSettings
	CreatedAt   time.Time
}

// MaxHubNameLen bounds Hub.Name.
const MaxHubNameLen = 32

// Connection binds one chat-platform channel to one hub.
type Connection struct {
	ID         string
	ChannelID  string // unique among all connections
	ServerID   string
	HubID      string
	Connected  bool
	WebhookURL string // empty means provision before first broadcast
	Compact    bool   // plain rendering instead of an embed
	EmbedColor string
	InviteURL  string
	LastActive time.Time
	CreatedAt  time.Time
}

// RulesAcceptance marks that a user has accepted a hub's rules.
type RulesAcceptance struct {
	UserID     string
	HubID      string
	AcceptedAt time.Time
}

// SubjectKind distinguishes user bans from server bans.
type SubjectKind string

const (
	SubjectUser   SubjectKind = "user"
	SubjectServer SubjectKind = "server"
)

// BanKind is the duration class of a ban.
type BanKind string

const (
	BanPermanent BanKind = "PERMANENT"
	BanTemporary BanKind = "TEMPORARY"
)

// BanStatus is the lifecycle state of a ban.
type BanStatus string

const (
	BanActive  BanStatus = "ACTIVE"
	BanRevoked BanStatus = "REVOKED"
	BanExpired BanStatus = "EXPIRED"
)

// Ban excludes a user or a server from all hubs. At most one ACTIVE ban may
// exist per subject.
type Ban struct {
	ID              string
	SubjectKind     SubjectKind
	SubjectID       string
	ModeratorUserID string
	Reason          string
	Kind            BanKind
	Status          BanStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time // set iff Kind is TEMPORARY
	RevokedBy       string
	RevokedAt       time.Time
}

// EffectiveStatus reports the status with lazy expiry applied: a TEMPORARY
// ban past its deadline is EXPIRED no matter what is stored.
func (b Ban) EffectiveStatus(now time.Time) BanStatus {
	if b.Status == BanActive && b.Kind == BanTemporary && !b.ExpiresAt.IsZero() && !now.Before(b.ExpiresAt) {
		return BanExpired
	}
	return b.Status
}

// BlacklistEntry is a hub-scoped infraction excluding a subject from one hub.
type BlacklistEntry struct {
	HubID           string
	SubjectKind     SubjectKind
	SubjectID       string
	Reason          string
	ModeratorUserID string
	CreatedAt       time.Time
	ExpiresAt       time.Time // zero means indefinite
}

// Expired reports whether the entry has lapsed.
func (e BlacklistEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Anti-swear rule actions.
const (
	ActionBlock   = "block"
	ActionWarn    = "warn"
	ActionReplace = "replace"
)

// AntiSwearRule is one named pattern set configured on a hub.
type AntiSwearRule struct {
	ID       string
	HubID    string
	Name     string
	Patterns []string // lower-cased words, * wildcard allowed
	Actions  []string // ActionBlock, ActionWarn, ActionReplace
}
