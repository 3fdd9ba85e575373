package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/interchat-hq/interchat/internal/admission"
	"github.com/interchat-hq/interchat/internal/relay"
	"github.com/interchat-hq/interchat/internal/transport"
	"github.com/interchat-hq/interchat/internal/webhooks"
)

// quoteLimit caps the excerpt length when decorating replies.
const quoteLimit = 80

var linkRe = regexp.MustCompile(`https?://\S+`)

// linkAllowed reports whether a link may cross a call. Only short-lived GIF
// hosts pass; everything else is treated as an unsolicited link.
func linkAllowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range []string{"tenor.com", "giphy.com"} {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// SessionOptions wires the per-message checks and tuning into a Session.
// Nil checks disable their slot.
type SessionOptions struct {
	Spam   *admission.SpamGuard
	NSFW   admission.NSFWDetector
	Filter admission.ContentFilter
	// BlockedResponses supplies the canned notices shown to the peer when a
	// message is blocked. Re-read per block so config reloads apply.
	BlockedResponses func() []string
	// Retention is how long the recent-message ring is kept.
	Retention time.Duration
	// SendTimeout bounds each webhook dispatch to the peer.
	SendTimeout time.Duration
	// TypingRefractory is the minimum spacing between typing relays per
	// channel.
	TypingRefractory time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.TypingRefractory <= 0 {
		o.TypingRefractory = 5 * time.Second
	}
	return o
}

// Session relays messages between the two sides of active calls. One Session
// serves all calls in the process; per-call state stays in the Directory.
type Session struct {
	dir      *Directory
	client   transport.WebhookClient
	notifier transport.Notifier
	prov     *webhooks.Provisioner
	opts     SessionOptions

	mu     sync.Mutex
	typing map[string]*rate.Limiter
}

func NewSession(dir *Directory, client transport.WebhookClient, notifier transport.Notifier, prov *webhooks.Provisioner, opts SessionOptions) *Session {
	return &Session{
		dir:      dir,
		client:   client,
		notifier: notifier,
		prov:     prov,
		opts:     opts.withDefaults(),
		typing:   make(map[string]*rate.Limiter),
	}
}

// OnMessage relays one channel message to the call peer. Returns false when
// the channel has no active call, letting the processor fall through.
func (s *Session) OnMessage(ctx context.Context, m relay.MessageSnapshot) (bool, error) {
	ac, err := s.dir.ActiveFor(ctx, m.ChannelID)
	if errors.Is(err, ErrNotInCall) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	me := ac.ParticipantFor(m.ChannelID)
	peer := ac.Peer(m.ChannelID)
	if me == nil || peer == nil {
		slog.Warn("call record missing a participant", "call_id", ac.ID, "channel_id", m.ChannelID)
		return false, nil
	}

	grew := me.addUser(m.AuthorID)
	ac.LastActivityAt = time.Now().UTC()
	if err := s.dir.save(ctx, ac, 0); err != nil {
		slog.Warn("failed to touch call record", "call_id", ac.ID, "error", err)
	} else if grew {
		slog.Debug("call participant joined", "call_id", ac.ID, "user_id", m.AuthorID)
	}

	att := m.FirstAttachment()
	if reason := s.blockReason(ctx, m, att); reason != "" {
		s.blocked(ctx, ac, m, reason)
		return true, nil
	}

	payload := transport.WebhookPayload{
		Content:   m.Content,
		Username:  m.AuthorName,
		AvatarURL: m.AuthorAvatar,
	}
	if m.ReplyToID != "" {
		if quote := s.quoteFor(ctx, ac.ID, m.ReplyToID); quote != "" {
			payload.Content = quote + payload.Content
		}
	}
	if att.URL != "" {
		if payload.Content != "" {
			payload.Content += "\n"
		}
		payload.Content += att.URL
	}

	mirroredID, err := s.send(ctx, ac, peer, payload)
	if err != nil {
		slog.Warn("call relay failed", "call_id", ac.ID, "peer_channel_id", peer.ChannelID, "error", err)
		return true, fmt.Errorf("relay call message: %w", err)
	}

	entry := RingEntry{
		MessageID:     m.MessageID,
		MirroredID:    mirroredID,
		AuthorID:      m.AuthorID,
		AuthorName:    m.AuthorName,
		Content:       m.Content,
		AttachmentURL: att.URL,
		SentAt:        time.Now().UTC(),
	}
	if err := s.dir.appendRing(ctx, ac.ID, entry, s.opts.Retention); err != nil {
		slog.Warn("failed to record call message", "call_id", ac.ID, "error", err)
	}
	return true, nil
}

// blockReason runs the call-specific checks in order and names the first
// failure. Classifier faults admit the message rather than silencing a call.
func (s *Session) blockReason(ctx context.Context, m relay.MessageSnapshot, att relay.Attachment) string {
	if s.opts.Spam != nil && !s.opts.Spam.Allow(m.AuthorID, m.ChannelID) {
		return "spam"
	}
	for _, link := range linkRe.FindAllString(m.Content, -1) {
		if !linkAllowed(link) {
			return "link"
		}
	}
	if s.opts.NSFW != nil && att.IsImage() {
		unsafe, err := s.opts.NSFW.IsUnsafe(ctx, att.URL)
		if err != nil {
			slog.Warn("call NSFW check failed", "error", err)
		} else if unsafe {
			return "nsfw"
		}
	}
	if s.opts.Filter != nil {
		blocked, category, err := s.opts.Filter.Check(ctx, m.Content, att.URL)
		if err != nil {
			slog.Warn("call content filter failed", "error", err)
		} else if blocked {
			return "content:" + category
		}
	}
	return ""
}

// blocked tells the peer something was withheld and leaves a [BLOCKED]
// marker in the ring for moderation.
func (s *Session) blocked(ctx context.Context, ac *Active, m relay.MessageSnapshot, reason string) {
	slog.Info("call message blocked", "call_id", ac.ID, "reason", reason, "user_id", m.AuthorID)
	payload := transport.WebhookPayload{
		Content:   s.cannedResponse(),
		Username:  m.AuthorName,
		AvatarURL: m.AuthorAvatar,
	}
	peer := ac.Peer(m.ChannelID)
	if _, err := s.send(ctx, ac, peer, payload); err != nil {
		slog.Warn("blocked-message notice failed", "call_id", ac.ID, "error", err)
	}
	entry := RingEntry{
		MessageID:  m.MessageID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Content:    "[BLOCKED]",
		SentAt:     time.Now().UTC(),
	}
	if err := s.dir.appendRing(ctx, ac.ID, entry, s.opts.Retention); err != nil {
		slog.Warn("failed to record blocked call message", "call_id", ac.ID, "error", err)
	}
}

func (s *Session) cannedResponse() string {
	var pool []string
	if s.opts.BlockedResponses != nil {
		pool = s.opts.BlockedResponses()
	}
	if len(pool) == 0 {
		return "*message blocked*"
	}
	return pool[rand.IntN(len(pool))]
}

// quoteFor renders a reply decoration from the ring. The referenced id may
// be the original message or the mirrored copy on either side.
func (s *Session) quoteFor(ctx context.Context, callID, replyToID string) string {
	entries, err := s.dir.Messages(ctx, callID)
	if err != nil {
		slog.Warn("reply lookup failed", "call_id", callID, "error", err)
		return ""
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.MessageID != replyToID && e.MirroredID != replyToID {
			continue
		}
		excerpt := strings.ReplaceAll(e.Content, "\n", " ")
		if r := []rune(excerpt); len(r) > quoteLimit {
			excerpt = string(r[:quoteLimit]) + "…"
		}
		return fmt.Sprintf("> **%s**: %s\n", e.AuthorName, excerpt)
	}
	return ""
}

// send dispatches a payload to the peer's webhook, re-provisioning once when
// the platform reports the webhook gone mid-call.
func (s *Session) send(ctx context.Context, ac *Active, peer *Participant, payload transport.WebhookPayload) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	id, err := s.client.SendWebhook(cctx, peer.WebhookURL, payload)
	if err == nil || !errors.Is(err, transport.ErrWebhookGone) {
		return id, err
	}

	fresh, perr := s.prov.EnsureChannel(ctx, peer.ChannelID)
	if perr != nil {
		return "", fmt.Errorf("recreate call webhook: %w", perr)
	}
	peer.WebhookURL = fresh
	if err := s.dir.save(ctx, ac, 0); err != nil {
		slog.Warn("failed to record recreated call webhook", "call_id", ac.ID, "error", err)
	}
	cctx, cancel = context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	return s.client.SendWebhook(cctx, fresh, payload)
}

// OnTyping relays a typing signal for the channel's call, coalesced per
// channel under the refractory window.
func (s *Session) OnTyping(ctx context.Context, channelID string) {
	if !s.typingAllowed(channelID) {
		return
	}
	ac, err := s.dir.ActiveFor(ctx, channelID)
	if err != nil {
		return
	}
	peer := ac.Peer(channelID)
	if peer == nil || s.notifier == nil {
		return
	}
	if err := s.notifier.SendTyping(ctx, peer.ChannelID); err != nil {
		slog.Debug("typing relay failed", "call_id", ac.ID, "error", err)
	}
}

func (s *Session) typingAllowed(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.typing[channelID]
	if !ok {
		// Channels cycle through calls slowly; cap the map rather than
		// running a prune loop.
		if len(s.typing) >= 4096 {
			s.typing = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Every(s.opts.TypingRefractory), 1)
		s.typing[channelID] = lim
	}
	return lim.Allow()
}
