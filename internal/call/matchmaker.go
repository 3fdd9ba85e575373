package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/transport"
	"github.com/interchat-hq/interchat/internal/webhooks"
)

// Outcome classifies the result of an initiate request.
type Outcome int

const (
	OutcomeQueued Outcome = iota
	OutcomeConnected
	OutcomeAlreadyInCall
	OutcomeDenied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeQueued:
		return "queued"
	case OutcomeConnected:
		return "connected"
	case OutcomeAlreadyInCall:
		return "already_in_call"
	case OutcomeDenied:
		return "denied"
	}
	return "unknown"
}

// InitiateResult is the value returned to the command layer. Error returns
// are reserved for store and Redis faults.
type InitiateResult struct {
	Outcome Outcome
	CallID  string // set when Connected
	Reason  string // set when Denied, shown to the user
}

// Options tunes the matchmaker. Zero values pick serviceable defaults.
type Options struct {
	// MaxWait is how long a queue entry may wait before the sweeper prunes it.
	MaxWait time.Duration
	// Cooldown is how long a channel pair is excluded from re-matching.
	Cooldown time.Duration
	// Retention is how long ended-call state is kept for reports.
	Retention time.Duration
	// IdleTimeout ends calls with no messages for this long. Zero disables
	// the idle sweep.
	IdleTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxWait <= 0 {
		o.MaxWait = 5 * time.Minute
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 10 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	return o
}

// Matchmaker pairs waiting channels into calls. The queue and the channel
// claims live in Redis so any process may pair any entry; the SETNX claim
// plus the LREM dequeue keep two processes from pairing the same entry.
type Matchmaker struct {
	dir      *Directory
	bans     store.BanStore
	conns    store.ConnectionStore
	prov     *webhooks.Provisioner
	notifier transport.Notifier
	opts     Options
}

func NewMatchmaker(dir *Directory, bans store.BanStore, conns store.ConnectionStore, prov *webhooks.Provisioner, notifier transport.Notifier, opts Options) *Matchmaker {
	return &Matchmaker{
		dir:      dir,
		bans:     bans,
		conns:    conns,
		prov:     prov,
		notifier: notifier,
		opts:     opts.withDefaults(),
	}
}

// Initiate requests a call for a channel: pairs it with the oldest eligible
// queued channel, or queues it when none is waiting.
func (m *Matchmaker) Initiate(ctx context.Context, channelID, serverID, userID string) (InitiateResult, error) {
	callID, err := m.dir.activeCallID(ctx, channelID)
	if err != nil {
		return InitiateResult{}, err
	}
	if callID != "" {
		return InitiateResult{Outcome: OutcomeAlreadyInCall, CallID: callID}, nil
	}

	if reason, err := m.denied(ctx, channelID, serverID, userID); err != nil {
		return InitiateResult{}, err
	} else if reason != "" {
		return InitiateResult{Outcome: OutcomeDenied, Reason: reason}, nil
	}

	webhookURL, err := m.prov.EnsureChannel(ctx, channelID)
	if err != nil {
		slog.Warn("call webhook provisioning failed", "channel_id", channelID, "error", err)
		return InitiateResult{
			Outcome: OutcomeDenied,
			Reason:  "I could not create a webhook in this channel. Check my permissions and try again.",
		}, nil
	}

	res, err := m.pair(ctx, channelID, serverID, userID, webhookURL)
	if err != nil || res.Outcome != OutcomeQueued {
		return res, err
	}

	if res.Reason == alreadyQueued {
		return InitiateResult{Outcome: OutcomeQueued}, nil
	}
	req := Request{
		ChannelID:  channelID,
		ServerID:   serverID,
		UserID:     userID,
		WebhookURL: webhookURL,
		EnqueuedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("encode call request: %w", err)
	}
	if err := m.dir.rdb.RPush(ctx, queueKey, raw).Err(); err != nil {
		return InitiateResult{}, fmt.Errorf("enqueue call request: %w", err)
	}
	slog.Info("call queued", "channel_id", channelID, "server_id", serverID)
	return InitiateResult{Outcome: OutcomeQueued}, nil
}

// denied returns a user-facing reason when the channel may not call.
func (m *Matchmaker) denied(ctx context.Context, channelID, serverID, userID string) (string, error) {
	if _, err := m.bans.FindActive(ctx, store.SubjectServer, serverID); err == nil {
		return "This server is banned from InterChat.", nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("check server ban: %w", err)
	}
	if _, err := m.bans.FindActive(ctx, store.SubjectUser, userID); err == nil {
		return "You are banned from InterChat.", nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("check user ban: %w", err)
	}
	conn, err := m.conns.Find(ctx, channelID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("check hub connection: %w", err)
	}
	if conn != nil && conn.Connected {
		return "This channel relays a hub. Use a separate channel for calls.", nil
	}
	return "", nil
}

// alreadyQueued is an internal marker carried in InitiateResult.Reason while
// pairing; Initiate strips it before returning.
const alreadyQueued = "already-queued"

// pair scans the queue oldest-first for an eligible partner and atomically
// claims it. Returns OutcomeQueued when no partner is available.
func (m *Matchmaker) pair(ctx context.Context, channelID, serverID, userID, webhookURL string) (InitiateResult, error) {
	raws, err := m.dir.rdb.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return InitiateResult{}, fmt.Errorf("scan call queue: %w", err)
	}

	queued := InitiateResult{Outcome: OutcomeQueued}
	for _, raw := range raws {
		var q Request
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			slog.Warn("pruning undecodable call queue entry", "error", err)
			m.dir.rdb.LRem(ctx, queueKey, 1, raw)
			continue
		}
		if q.ChannelID == channelID {
			queued.Reason = alreadyQueued
			continue
		}
		if q.ServerID == serverID {
			continue
		}
		recent, err := m.dir.rdb.Exists(ctx, recentPrefix+pairKey(channelID, q.ChannelID)).Result()
		if err != nil {
			return InitiateResult{}, fmt.Errorf("check recent match: %w", err)
		}
		if recent > 0 {
			continue
		}

		res, matched, err := m.claim(ctx, channelID, serverID, userID, webhookURL, q, raw)
		if err != nil {
			return InitiateResult{}, err
		}
		if matched {
			return res, nil
		}
	}
	return queued, nil
}

// claim runs the atomic dequeue: a SETNX claim on the candidate's channel,
// then an LREM of the exact entry. Either step failing means another process
// got there first and the scan moves on.
func (m *Matchmaker) claim(ctx context.Context, channelID, serverID, userID, webhookURL string, q Request, raw string) (InitiateResult, bool, error) {
	callID := uuid.Must(uuid.NewV7()).String()

	ok, err := m.dir.rdb.SetNX(ctx, activePrefix+q.ChannelID, callID, activeGuardTTL).Result()
	if err != nil {
		return InitiateResult{}, false, fmt.Errorf("claim partner channel: %w", err)
	}
	if !ok {
		// The candidate is already in a call. Its queue entry is stale;
		// leave it for the sweeper.
		return InitiateResult{}, false, nil
	}
	removed, err := m.dir.rdb.LRem(ctx, queueKey, 1, raw).Result()
	if err != nil {
		m.dir.rdb.Del(ctx, activePrefix+q.ChannelID)
		return InitiateResult{}, false, fmt.Errorf("dequeue call request: %w", err)
	}
	if removed == 0 {
		// Another process dequeued this entry between our scan and now.
		m.dir.rdb.Del(ctx, activePrefix+q.ChannelID)
		return InitiateResult{}, false, nil
	}

	ok, err = m.dir.rdb.SetNX(ctx, activePrefix+channelID, callID, activeGuardTTL).Result()
	if err == nil && !ok {
		err = errors.New("channel entered a call mid-pairing")
	}
	if err != nil {
		// Undo: release the partner and put its entry back at the head so
		// it stays the oldest.
		m.dir.rdb.Del(ctx, activePrefix+q.ChannelID)
		m.dir.rdb.LPush(ctx, queueKey, raw)
		return InitiateResult{}, false, fmt.Errorf("claim own channel: %w", err)
	}

	now := time.Now().UTC()
	ac := &Active{
		ID:             callID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
		Participants: [2]Participant{
			{ChannelID: q.ChannelID, ServerID: q.ServerID, WebhookURL: q.WebhookURL, Users: []string{q.UserID}, JoinedAt: q.EnqueuedAt},
			{ChannelID: channelID, ServerID: serverID, WebhookURL: webhookURL, Users: []string{userID}, JoinedAt: now},
		},
	}
	if err := m.dir.save(ctx, ac, activeGuardTTL); err != nil {
		return InitiateResult{}, false, err
	}

	slog.Info("call connected", "call_id", callID, "channel_id", channelID, "partner_channel_id", q.ChannelID)
	for _, p := range ac.Participants {
		m.notify(ctx, p.ChannelID, "🔗 You're connected to another server! Say hi, and use `/hangup` when you're done or `/skip` for a new partner.", ControlButtons()...)
	}
	return InitiateResult{Outcome: OutcomeConnected, CallID: callID}, true, nil
}

// Retention reports how long ended-call state stays readable for reports.
func (m *Matchmaker) Retention() time.Duration {
	return m.opts.Retention
}

// Hangup ends the channel's active call. ErrNotInCall when there is none.
func (m *Matchmaker) Hangup(ctx context.Context, channelID, userID string) error {
	ac, err := m.dir.ActiveFor(ctx, channelID)
	if err != nil {
		return err
	}
	peer := ac.Peer(channelID)
	if err := m.end(ctx, ac); err != nil {
		return err
	}
	slog.Info("call ended", "call_id", ac.ID, "channel_id", channelID, "user_id", userID)
	if peer != nil {
		m.notify(ctx, peer.ChannelID, "👋 The other channel hung up. Use `/call` to find a new partner.", ReportButton(ac.ID, m.opts.Retention))
	}
	return nil
}

// Skip ends the current call, if any, and immediately looks for a new
// partner. The fresh recent-match entry keeps it from re-pairing with the
// channel it just left.
func (m *Matchmaker) Skip(ctx context.Context, channelID, serverID, userID string) (InitiateResult, error) {
	if err := m.Hangup(ctx, channelID, userID); err != nil && !errors.Is(err, ErrNotInCall) {
		return InitiateResult{}, err
	}
	return m.Initiate(ctx, channelID, serverID, userID)
}

// end transitions a call to ENDED: the record is re-written under the report
// retention window, both channel mappings drop, and the pair is excluded
// from re-matching for the cooldown.
func (m *Matchmaker) end(ctx context.Context, ac *Active) error {
	now := time.Now().UTC()
	ac.Status = StatusEnded
	ac.EndedAt = now
	if err := m.dir.save(ctx, ac, m.opts.Retention); err != nil {
		return err
	}

	a, b := ac.Participants[0].ChannelID, ac.Participants[1].ChannelID
	_, err := m.dir.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, activePrefix+a, activePrefix+b)
		pipe.Set(ctx, recentPrefix+pairKey(a, b), ac.ID, m.opts.Cooldown)
		pipe.Expire(ctx, ringPrefix+ac.ID, m.opts.Retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear call state: %w", err)
	}
	return nil
}

// Sweep prunes queue entries past the wait bound and ends idle calls. Safe
// to run from several processes at once: the LREM dequeue means only one
// sweeper notifies a pruned channel.
func (m *Matchmaker) Sweep(ctx context.Context) {
	m.sweepQueue(ctx)
	if m.opts.IdleTimeout > 0 {
		m.sweepIdle(ctx)
	}
}

func (m *Matchmaker) sweepQueue(ctx context.Context) {
	raws, err := m.dir.rdb.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		slog.Warn("call queue sweep failed", "error", err)
		return
	}
	now := time.Now()
	for _, raw := range raws {
		var q Request
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			m.dir.rdb.LRem(ctx, queueKey, 1, raw)
			continue
		}
		if now.Sub(q.EnqueuedAt) <= m.opts.MaxWait {
			continue
		}
		removed, err := m.dir.rdb.LRem(ctx, queueKey, 1, raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		slog.Info("pruned stale call request", "channel_id", q.ChannelID, "waited", now.Sub(q.EnqueuedAt))
		m.notify(ctx, q.ChannelID, "⏳ No partner turned up in time. Use `/call` to try again.")
	}
}

func (m *Matchmaker) sweepIdle(ctx context.Context) {
	iter := m.dir.rdb.Scan(ctx, 0, dataPrefix+"*", 100).Iterator()
	now := time.Now()
	for iter.Next(ctx) {
		callID := iter.Val()[len(dataPrefix):]
		ac, err := m.dir.Find(ctx, callID)
		if err != nil {
			continue
		}
		if ac.Status != StatusActive || now.Sub(ac.LastActivityAt) <= m.opts.IdleTimeout {
			continue
		}
		if err := m.end(ctx, ac); err != nil {
			slog.Warn("failed to end idle call", "call_id", ac.ID, "error", err)
			continue
		}
		slog.Info("ended idle call", "call_id", ac.ID, "idle", now.Sub(ac.LastActivityAt))
		for _, p := range ac.Participants {
			m.notify(ctx, p.ChannelID, "💤 Call ended after a long silence. Use `/call` to find a new partner.", ReportButton(ac.ID, m.opts.Retention))
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("idle call sweep failed", "error", err)
	}
}

func (m *Matchmaker) notify(ctx context.Context, channelID, text string, buttons ...transport.Button) {
	if m.notifier == nil {
		return
	}
	if _, err := m.notifier.SendNotice(ctx, channelID, transport.Notice{Text: text, Buttons: buttons}); err != nil {
		slog.Warn("call notice failed", "channel_id", channelID, "error", err)
	}
}
