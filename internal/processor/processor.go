// Package processor is the top-level entry point for inbound chat events.
// Every message lands here once; the processor classifies it as hub
// traffic, call traffic, or noise, and drives the matching pipeline:
// webhook provisioning, author upsert, rules gate, admission checks,
// broadcast fan-out, and the fire-and-forget stats sinks.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/interchat-hq/interchat/internal/admission"
	"github.com/interchat-hq/interchat/internal/broadcast"
	"github.com/interchat-hq/interchat/internal/cache"
	"github.com/interchat-hq/interchat/internal/call"
	"github.com/interchat-hq/interchat/internal/config"
	"github.com/interchat-hq/interchat/internal/relay"
	"github.com/interchat-hq/interchat/internal/rules"
	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/transport"
	"github.com/interchat-hq/interchat/internal/webhooks"
)

// statsTimeout bounds the asynchronous leaderboard write.
const statsTimeout = 3 * time.Second

// Result reports what a message turned out to be. HubID is set only on the
// hub path.
type Result struct {
	Handled bool
	HubID   string
}

// RulesPrompt builds the accept/decline notice shown to a member who has
// not yet agreed to a hub's rules. Injected so the pipeline stays decoupled
// from the command surface that owns the prompt's buttons.
type RulesPrompt func(hub *store.Hub) transport.Notice

// Deps collects the collaborators a Processor composes. All fields are
// required except RulesPrompt, which degrades to a silent denial.
type Deps struct {
	Config      *config.Config
	Resolver    *cache.Resolver
	Stores      store.Stores
	Gate        *rules.Gate
	Admission   *admission.Pipeline
	Broadcaster *broadcast.Broadcaster
	Session     *call.Session
	Provisioner *webhooks.Provisioner
	Notifier    transport.Notifier
	Fetcher     transport.Fetcher
	Redis       *redis.Client
	RulesPrompt RulesPrompt
}

type Processor struct {
	cfg      *config.Config
	resolver *cache.Resolver
	stores   store.Stores
	gate     *rules.Gate
	pipeline *admission.Pipeline
	bcast    *broadcast.Broadcaster
	session  *call.Session
	prov     *webhooks.Provisioner
	notifier transport.Notifier
	fetcher  transport.Fetcher
	rdb      *redis.Client
	prompt   RulesPrompt

	// serverNames caches guild id → display name; authors carry their own
	// names in the snapshot but server names need a fetch.
	serverNames *cache.Local[string]
	// seenAuthors remembers the last persisted name+avatar per author so
	// the hot path skips redundant upserts.
	seenAuthors *cache.Local[string]
}

func New(d Deps) *Processor {
	ttl := d.Config.Relay.CacheTTLDuration()
	return &Processor{
		cfg:         d.Config,
		resolver:    d.Resolver,
		stores:      d.Stores,
		gate:        d.Gate,
		pipeline:    d.Admission,
		bcast:       d.Broadcaster,
		session:     d.Session,
		prov:        d.Provisioner,
		notifier:    d.Notifier,
		fetcher:     d.Fetcher,
		rdb:         d.Redis,
		prompt:      d.RulesPrompt,
		serverNames: cache.NewLocal[string](ttl),
		seenAuthors: cache.NewLocal[string](ttl),
	}
}

// Close releases the processor's local caches.
func (p *Processor) Close() {
	p.serverNames.Close()
	p.seenAuthors.Close()
}

// Handlers adapts the processor to the transport's event hooks.
func (p *Processor) Handlers() transport.Handlers {
	return transport.Handlers{
		OnMessage: func(ctx context.Context, m relay.MessageSnapshot) {
			p.Process(ctx, m)
		},
		OnMessageEdit:   p.ProcessEdit,
		OnMessageDelete: p.ProcessDelete,
		OnTyping:        p.ProcessTyping,
		OnServerRemoved: p.ProcessServerRemoved,
	}
}

// Process classifies and runs one inbound message. It never panics out; a
// handler crash is logged and the message counts as unhandled.
func (p *Processor) Process(ctx context.Context, m relay.MessageSnapshot) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("message processing panicked",
				"channel_id", m.ChannelID, "message_id", m.MessageID, "panic", r)
			res = Result{}
		}
	}()

	if m.AuthorBot || !m.HasPayload() {
		return Result{}
	}

	route, err := p.resolver.ResolveChannel(ctx, m.ChannelID)
	switch {
	case err == nil:
		return p.hubMessage(ctx, m, route)
	case errors.Is(err, store.ErrNotFound):
		// Not a hub channel; it may carry an active call.
	default:
		slog.Error("channel resolve failed", "channel_id", m.ChannelID, "error", err)
		return Result{}
	}

	handled, err := p.session.OnMessage(ctx, m)
	if err != nil {
		slog.Error("call message failed", "channel_id", m.ChannelID, "error", err)
		return Result{}
	}
	return Result{Handled: handled}
}

func (p *Processor) hubMessage(ctx context.Context, m relay.MessageSnapshot, route *cache.Route) Result {
	if !route.Connection.Connected {
		return Result{}
	}

	// A connection without a webhook cannot receive mirrored traffic, so
	// repair it now rather than on its first inbound broadcast.
	if conn := route.Connection; conn.WebhookURL == "" {
		if _, err := p.prov.Ensure(ctx, &conn); err != nil {
			slog.Error("webhook provisioning failed",
				"channel_id", conn.ChannelID, "hub_id", route.Hub.ID, "error", err)
			return Result{}
		}
	}

	p.upsertAuthor(ctx, m)

	outcome, err := p.gate.Check(ctx, m.AuthorID, &route.Hub)
	if err != nil {
		slog.Warn("rules gate check failed",
			"hub_id", route.Hub.ID, "user_id", m.AuthorID, "error", err)
	}
	switch outcome {
	case rules.DeniedShown:
		p.showRulesPrompt(ctx, m.ChannelID, &route.Hub)
		return Result{}
	case rules.DeniedCooldown:
		return Result{}
	}

	attURL, imageURL := stableAttachment(m)
	dec, err := p.pipeline.Check(ctx, admission.Request{
		UserID:        m.AuthorID,
		ServerID:      m.ServerID,
		ChannelID:     m.ChannelID,
		Text:          m.Content,
		AttachmentURL: attURL,
		ImageURL:      imageURL,
	}, &route.Hub)
	if err != nil {
		slog.Error("admission check failed",
			"hub_id", route.Hub.ID, "message_id", m.MessageID, "error", err)
		return Result{}
	}
	if dec.Blocked {
		slog.Info("hub message blocked",
			"hub_id", route.Hub.ID, "user_id", m.AuthorID,
			"reason", dec.Reason.String(), "detail", dec.Detail)
		p.notifyBlocked(ctx, m)
		return Result{}
	}

	err = p.bcast.Dispatch(broadcast.Message{
		SourceMessageID: m.MessageID,
		SourceChannelID: m.ChannelID,
		ServerID:        m.ServerID,
		ServerName:      p.serverName(ctx, m.ServerID),
		HubID:           route.Hub.ID,
		AuthorID:        m.AuthorID,
		AuthorName:      m.AuthorName,
		AuthorAvatar:    m.AuthorAvatar,
		Text:            dec.Text,
		AttachmentURL:   attURL,
		ReplyToID:       m.ReplyToID,
	}, route.Siblings)
	if err != nil {
		// Queue-full drops are already logged by the broadcaster.
		if !errors.Is(err, broadcast.ErrQueueFull) {
			slog.Error("broadcast dispatch failed",
				"hub_id", route.Hub.ID, "message_id", m.MessageID, "error", err)
		}
		return Result{}
	}

	go p.recordStats(m, route.Hub.ID)
	return Result{Handled: true, HubID: route.Hub.ID}
}

// ProcessEdit re-admits the new text and rewrites the mirrored copies. Call
// messages are not editable once relayed; only hub traffic propagates.
func (p *Processor) ProcessEdit(ctx context.Context, e relay.EditSnapshot) {
	defer p.recovered("edit", e.ChannelID)

	if e.NewContent == "" {
		return
	}
	route, err := p.resolver.ResolveChannel(ctx, e.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Error("channel resolve failed", "channel_id", e.ChannelID, "error", err)
		return
	}
	if !route.Connection.Connected {
		return
	}

	dec, err := p.pipeline.Check(ctx, admission.Request{
		UserID:    e.AuthorID,
		ServerID:  e.ServerID,
		ChannelID: e.ChannelID,
		Text:      e.NewContent,
	}, &route.Hub)
	if err != nil {
		slog.Error("edit admission failed", "message_id", e.MessageID, "error", err)
		return
	}
	if dec.Blocked {
		// The mirrored copies keep the original text.
		slog.Info("edit blocked", "message_id", e.MessageID, "reason", dec.Reason.String())
		return
	}
	if err := p.bcast.PropagateEdit(ctx, e.MessageID, dec.Text); err != nil {
		slog.Warn("edit propagation failed", "message_id", e.MessageID, "error", err)
	}
}

// ProcessDelete cascades a deletion. The record lookup accepts the source
// id or any mirrored copy's id, so no channel classification is needed.
func (p *Processor) ProcessDelete(ctx context.Context, d relay.DeleteSnapshot) {
	defer p.recovered("delete", d.ChannelID)

	if err := p.bcast.PropagateDelete(ctx, d.MessageID); err != nil {
		slog.Warn("delete propagation failed", "message_id", d.MessageID, "error", err)
	}
}

// ProcessTyping relays typing to a call peer. Hub channels fan out too wide
// for typing to be meaningful, so only the call session reacts.
func (p *Processor) ProcessTyping(ctx context.Context, channelID, _ string) {
	defer p.recovered("typing", channelID)
	p.session.OnTyping(ctx, channelID)
}

// ProcessServerRemoved drops every connection of a server the bot left.
func (p *Processor) ProcessServerRemoved(ctx context.Context, serverID string) {
	defer p.recovered("server_removed", serverID)

	n, err := p.stores.Connections.DeleteByServer(ctx, serverID)
	if err != nil {
		slog.Error("server cleanup failed", "server_id", serverID, "error", err)
		return
	}
	if n > 0 {
		slog.Info("removed connections of departed server", "server_id", serverID, "count", n)
	}
}

func (p *Processor) recovered(event, id string) {
	if r := recover(); r != nil {
		slog.Error("event handler panicked", "event", event, "id", id, "panic", r)
	}
}

// upsertAuthor keeps the author's User row current. A signature cache skips
// the write while name and avatar are unchanged.
func (p *Processor) upsertAuthor(ctx context.Context, m relay.MessageSnapshot) {
	sig := m.AuthorName + "\x00" + m.AuthorAvatar
	if prev, ok := p.seenAuthors.Get(m.AuthorID); ok && prev == sig {
		return
	}
	err := p.stores.Users.Upsert(ctx, store.User{
		ID:          m.AuthorID,
		DisplayName: m.AuthorName,
		AvatarURL:   m.AuthorAvatar,
	})
	if err != nil {
		slog.Warn("author upsert failed", "user_id", m.AuthorID, "error", err)
		return
	}
	p.seenAuthors.Set(m.AuthorID, sig)
}

func (p *Processor) showRulesPrompt(ctx context.Context, channelID string, hub *store.Hub) {
	if p.prompt == nil {
		return
	}
	if _, err := p.notifier.SendNotice(ctx, channelID, p.prompt(hub)); err != nil {
		slog.Warn("rules prompt send failed", "channel_id", channelID, "hub_id", hub.ID, "error", err)
	}
}

// notifyBlocked tells the author their message went nowhere, at most once
// per cooldown window so a burst of blocked spam does not become a burst of
// bot notices.
func (p *Processor) notifyBlocked(ctx context.Context, m relay.MessageSnapshot) {
	key := "notify:blocked:" + m.AuthorID
	ok, err := p.rdb.SetNX(ctx, key, "1", p.cfg.Relay.NotifyCooldownDuration()).Result()
	if err != nil {
		slog.Debug("blocked-notice marker failed", "user_id", m.AuthorID, "error", err)
		return
	}
	if !ok {
		return
	}
	text := fmt.Sprintf("<@%s> %s", m.AuthorID, p.blockedLine())
	if _, err := p.notifier.SendNotice(ctx, m.ChannelID, transport.Notice{Text: text}); err != nil {
		slog.Warn("blocked notice send failed", "channel_id", m.ChannelID, "error", err)
	}
}

func (p *Processor) blockedLine() string {
	pool := p.cfg.BlockedResponses()
	if len(pool) == 0 {
		return "Your message wasn't relayed."
	}
	return pool[rand.IntN(len(pool))]
}

// serverName resolves and caches a server's display name for the webhook
// author line. A fetch failure falls back to the raw id rather than holding
// up the message.
func (p *Processor) serverName(ctx context.Context, serverID string) string {
	if name, ok := p.serverNames.Get(serverID); ok {
		return name
	}
	info, err := p.fetcher.FetchServer(ctx, serverID)
	if err != nil {
		slog.Debug("server name fetch failed", "server_id", serverID, "error", err)
		return serverID
	}
	p.serverNames.Set(serverID, info.Name)
	return info.Name
}

// stableAttachment picks the URL to relay for the first attachment. The
// proxy URL survives source-message deletion, so it wins when present.
func stableAttachment(m relay.MessageSnapshot) (attURL, imageURL string) {
	att := m.FirstAttachment()
	attURL = att.ProxyURL
	if attURL == "" {
		attURL = att.URL
	}
	if att.IsImage() {
		imageURL = attURL
	}
	return attURL, imageURL
}

// recordStats feeds the leaderboard sorted sets. Strictly fire-and-forget;
// a Redis hiccup here never surfaces to the relay path.
func (p *Processor) recordStats(m relay.MessageSnapshot, hubID string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("stats sink panicked", "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	month := time.Now().UTC().Format("2006-01")
	pipe := p.rdb.Pipeline()
	pipe.ZIncrBy(ctx, "leaderboard:messages:users", 1, m.AuthorID)
	pipe.ZIncrBy(ctx, "leaderboard:messages:servers", 1, m.ServerID)
	pipe.ZIncrBy(ctx, "leaderboard:messages:users:"+month, 1, m.AuthorID)
	pipe.ZIncrBy(ctx, "leaderboard:messages:servers:"+month, 1, m.ServerID)
	pipe.ZIncrBy(ctx, "stats:hub:messages", 1, hubID)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Debug("leaderboard update failed", "error", err)
	}
}
