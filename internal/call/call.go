// Package call implements the 1:1 call runtime: a matchmaker pairing two
// connected channels through a shared Redis queue, per-call sessions relaying
// messages between the pair's webhooks, and the retained state moderation
// reads when a call is reported.
package call

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Redis key layout. The queue is a single shared FIFO list; everything else
// is keyed per channel or per call.
const (
	queueKey     = "call:queue"
	activePrefix = "call:active:"         // + channelID, value callID
	dataPrefix   = "call:data:"           // + callID, value Active JSON
	recentPrefix = "call:recent_matches:" // + pairKey
	ringPrefix   = "call:messages:"       // + callID
)

// activeGuardTTL bounds how long call state can outlive a crashed process.
// The idle sweeper ends abandoned calls long before this fires.
const activeGuardTTL = 24 * time.Hour

// ringSize bounds the recent-messages ring kept per call.
const ringSize = 50

// ErrNotInCall is returned when a channel has no active call.
var ErrNotInCall = errors.New("channel is not in a call")

// ErrNotFound is returned when no call, active or retained, matches an id.
var ErrNotFound = errors.New("call not found")

// Status is the lifecycle state of a call.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

// Request is one matchmaker queue entry: a channel waiting for a partner.
type Request struct {
	ChannelID  string    `json:"channel_id"`
	ServerID   string    `json:"server_id"`
	UserID     string    `json:"user_id"`
	WebhookURL string    `json:"webhook_url"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Participant is one side of a call. Users grows as distinct authors send
// messages through the channel.
type Participant struct {
	ChannelID  string    `json:"channel_id"`
	ServerID   string    `json:"server_id"`
	WebhookURL string    `json:"webhook_url"`
	Users      []string  `json:"users"`
	JoinedAt   time.Time `json:"joined_at"`
}

// addUser records an author on this side, reporting whether the set grew.
func (p *Participant) addUser(userID string) bool {
	for _, u := range p.Users {
		if u == userID {
			return false
		}
	}
	p.Users = append(p.Users, userID)
	return true
}

// Active is the full state of a call: exactly two participants while ACTIVE,
// retained in ENDED state for the report window after it ends.
type Active struct {
	ID             string         `json:"id"`
	Status         Status         `json:"status"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	Participants   [2]Participant `json:"participants"`
}

// ParticipantFor returns the participant owning channelID, or nil.
func (a *Active) ParticipantFor(channelID string) *Participant {
	for i := range a.Participants {
		if a.Participants[i].ChannelID == channelID {
			return &a.Participants[i]
		}
	}
	return nil
}

// Peer returns the other side of the call relative to channelID, or nil.
func (a *Active) Peer(channelID string) *Participant {
	for i := range a.Participants {
		if a.Participants[i].ChannelID != channelID {
			return &a.Participants[i]
		}
	}
	return nil
}

// UserIDs returns every user seen on either side of the call.
func (a *Active) UserIDs() []string {
	var out []string
	for i := range a.Participants {
		out = append(out, a.Participants[i].Users...)
	}
	return out
}

// RingEntry is one recent-message record. MirroredID is the id of the copy
// dispatched to the peer, so replies can reference either side's view.
type RingEntry struct {
	MessageID     string    `json:"message_id"`
	MirroredID    string    `json:"mirrored_id,omitempty"`
	AuthorID      string    `json:"author_id"`
	AuthorName    string    `json:"author_name"`
	Content       string    `json:"content"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}

// pairKey names a channel pair independent of initiation order.
func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}
