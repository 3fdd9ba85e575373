// Package discord adapts the Discord gateway and REST API to the transport
// surface the relay consumes.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/interchat-hq/interchat/internal/config"
	"github.com/interchat-hq/interchat/internal/relay"
	"github.com/interchat-hq/interchat/internal/transport"
)

// Adapter connects to Discord via the Bot API using gateway events.
type Adapter struct {
	session   *discordgo.Session
	config    config.DiscordConfig
	handlers  transport.Handlers
	botUserID string // populated on start
	appID     string
	running   bool
}

// New creates a Discord adapter from config. Handlers must be set before
// Start.
func New(cfg config.DiscordConfig) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Request necessary intents
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageTyping |
		discordgo.IntentsMessageContent

	return &Adapter{
		session: session,
		config:  cfg,
		appID:   cfg.AppID,
	}, nil
}

// SetHandlers installs the event hooks. The adapter delivers no events
// before Start, so callers may construct the consumers after the adapter
// itself and install them here.
func (a *Adapter) SetHandlers(h transport.Handlers) {
	a.handlers = h
}

// Start opens the Discord gateway connection and begins receiving events.
func (a *Adapter) Start(_ context.Context) error {
	slog.Info("starting discord gateway")

	a.session.AddHandler(a.handleMessageCreate)
	a.session.AddHandler(a.handleMessageUpdate)
	a.session.AddHandler(a.handleMessageDelete)
	a.session.AddHandler(a.handleTypingStart)
	a.session.AddHandler(a.handleInteraction)
	a.session.AddHandler(a.handleGuildDelete)

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	a.botUserID = user.ID
	if a.appID == "" {
		a.appID = user.ID
	}

	a.running = true
	slog.Info("discord gateway connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (a *Adapter) Stop(_ context.Context) error {
	slog.Info("stopping discord gateway")
	a.running = false
	return a.session.Close()
}

// Me returns the bot's own identity; valid after Start.
func (a *Adapter) Me() transport.UserInfo {
	return transport.UserInfo{ID: a.botUserID, Bot: true}
}

// handleMessageCreate converts gateway messages into snapshots. Own and
// webhook-authored messages are dropped here so mirrored messages can never
// loop back through the relay; other bots pass through flagged, the
// processor decides.
func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if a.handlers.OnMessage == nil || m.Author == nil {
		return
	}
	if m.Author.ID == a.botUserID || m.WebhookID != "" {
		return
	}
	if m.GuildID == "" {
		// The relay works in guild channels only.
		return
	}
	a.handlers.OnMessage(context.Background(), snapshotMessage(m.Message))
}

func (a *Adapter) handleMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if a.handlers.OnMessageEdit == nil || m.Author == nil {
		return
	}
	if m.Author.ID == a.botUserID || m.WebhookID != "" || m.GuildID == "" {
		return
	}
	edit := relay.EditSnapshot{
		MessageID:  m.ID,
		ChannelID:  m.ChannelID,
		ServerID:   m.GuildID,
		AuthorID:   m.Author.ID,
		NewContent: m.Content,
		EditedAt:   time.Now(),
	}
	if m.EditedTimestamp != nil {
		edit.EditedAt = *m.EditedTimestamp
	}
	a.handlers.OnMessageEdit(context.Background(), edit)
}

func (a *Adapter) handleMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if a.handlers.OnMessageDelete == nil {
		return
	}
	a.handlers.OnMessageDelete(context.Background(), relay.DeleteSnapshot{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
	})
}

func (a *Adapter) handleTypingStart(_ *discordgo.Session, t *discordgo.TypingStart) {
	if a.handlers.OnTyping == nil || t.UserID == a.botUserID {
		return
	}
	a.handlers.OnTyping(context.Background(), t.ChannelID, t.UserID)
}

func (a *Adapter) handleGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if a.handlers.OnServerRemoved == nil {
		return
	}
	// Unavailable means a platform outage, not a removal.
	if g.Unavailable {
		return
	}
	slog.Info("removed from server", "server_id", g.ID)
	a.handlers.OnServerRemoved(context.Background(), g.ID)
}

// snapshotMessage copies the platform message into a value snapshot;
// downstream components never touch SDK types.
func snapshotMessage(m *discordgo.Message) relay.MessageSnapshot {
	snap := relay.MessageSnapshot{
		MessageID:    m.ID,
		ChannelID:    m.ChannelID,
		ServerID:     m.GuildID,
		AuthorID:     m.Author.ID,
		AuthorName:   resolveDisplayName(m),
		AuthorAvatar: m.Author.AvatarURL(""),
		AuthorBot:    m.Author.Bot,
		Content:      m.Content,
		Timestamp:    m.Timestamp,
	}
	if m.MessageReference != nil {
		snap.ReplyToID = m.MessageReference.MessageID
	}
	for _, att := range m.Attachments {
		snap.Attachments = append(snap.Attachments, relay.Attachment{
			URL:         att.URL,
			ProxyURL:    att.ProxyURL,
			Filename:    att.Filename,
			ContentType: att.ContentType,
		})
	}
	return snap
}

// resolveDisplayName returns the best available display name for a message
// author. Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// FetchUser reads a user by id.
func (a *Adapter) FetchUser(ctx context.Context, id string) (*transport.UserInfo, error) {
	u, err := a.session.User(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return &transport.UserInfo{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: name,
		AvatarURL:   u.AvatarURL(""),
		Bot:         u.Bot,
	}, nil
}

// FetchChannel reads a channel by id.
func (a *Adapter) FetchChannel(ctx context.Context, id string) (*transport.ChannelInfo, error) {
	ch, err := a.session.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch channel: %w", err)
	}
	return &transport.ChannelInfo{
		ID:       ch.ID,
		ServerID: ch.GuildID,
		Name:     ch.Name,
		NSFW:     ch.NSFW,
	}, nil
}

// FetchServer reads a guild by id.
func (a *Adapter) FetchServer(ctx context.Context, id string) (*transport.ServerInfo, error) {
	g, err := a.session.Guild(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch server: %w", err)
	}
	return &transport.ServerInfo{
		ID:          g.ID,
		Name:        g.Name,
		IconURL:     g.IconURL(""),
		MemberCount: g.ApproximateMemberCount,
	}, nil
}

// SendTyping shows the typing indicator in a channel; it expires on its own
// after a few seconds.
func (a *Adapter) SendTyping(ctx context.Context, channelID string) error {
	return a.session.ChannelTyping(channelID, discordgo.WithContext(ctx))
}
