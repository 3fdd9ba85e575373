// Package transport abstracts the chat platform behind the relay: gateway
// events in, webhook dispatch and notices out. The concrete Discord adapter
// lives in transport/discord; everything above this package works with the
// value types here and never sees a platform SDK type.
package transport

import (
	"context"
	"errors"

	"github.com/interchat-hq/interchat/internal/relay"
)

// ErrWebhookGone marks a permanently dead webhook (deleted on the platform).
// Callers clear the stored URL and re-provision instead of retrying.
var ErrWebhookGone = errors.New("webhook gone")

// WebhookPayload is one outbound mirrored message.
type WebhookPayload struct {
	Content   string
	Username  string // author display name shown on the mirrored message
	AvatarURL string
	Embed     *Embed
}

// Embed is a platform-neutral rich rendering.
type Embed struct {
	Title       string
	Description string
	Color       int
	URL         string
	ImageURL    string
	Thumbnail   string
	Footer      string
	Fields      []EmbedField
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Webhook is a provisioned per-channel endpoint.
type Webhook struct {
	ID        string
	ChannelID string
	URL       string
	OwnerID   string // application that created it
}

// UserInfo, ChannelInfo, and ServerInfo are fetch results; thin projections
// of the platform objects.
type UserInfo struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	Bot         bool
}

type ChannelInfo struct {
	ID       string
	ServerID string
	Name     string
	NSFW     bool
}

type ServerInfo struct {
	ID          string
	Name        string
	IconURL     string
	MemberCount int
}

// Notice is a bot-authored channel message (rules prompts, call notices,
// moderation responses). Buttons carry codec tokens as their custom ids.
type Notice struct {
	Text    string
	Embed   *Embed
	Buttons []Button
	Select  *SelectMenu
}

type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
	ButtonLink
)

type Button struct {
	Label    string
	Token    string // codec token; empty for link buttons
	Style    ButtonStyle
	Emoji    string
	URL      string // link buttons only
	Disabled bool
}

type SelectMenu struct {
	Token       string
	Placeholder string
	MinValues   int
	MaxValues   int
	Options     []SelectOption
}

type SelectOption struct {
	Label       string
	Value       string
	Description string
	Emoji       string
}

// Handlers are the gateway-event callbacks. All fields are optional; set
// them before Start.
type Handlers struct {
	OnMessage       func(ctx context.Context, m relay.MessageSnapshot)
	OnMessageEdit   func(ctx context.Context, e relay.EditSnapshot)
	OnMessageDelete func(ctx context.Context, d relay.DeleteSnapshot)
	OnTyping        func(ctx context.Context, channelID, userID string)
	OnInteraction   func(ctx context.Context, i Interaction)
	// OnServerRemoved fires when the bot is removed from a server.
	OnServerRemoved func(ctx context.Context, serverID string)
}

// InteractionKind tags the inbound interaction variant.
type InteractionKind int

const (
	KindSlash InteractionKind = iota
	KindComponent
	KindModal
)

// Interaction is the platform-neutral sum of slash command, component press,
// and modal submit. Token is the codec token for components and modals;
// Command and Options are set for slash commands; Values carries select
// values or modal field values keyed by field token.
type Interaction struct {
	Kind      InteractionKind
	Command   string
	Token     string
	UserID    string
	UserName  string
	AvatarURL string
	ChannelID string
	ServerID  string
	Options   map[string]string
	Values    []string
	Fields    map[string]string
	Responder Responder
}

// Option returns a named slash-command option, or "".
func (i Interaction) Option(name string) string {
	if i.Options == nil {
		return ""
	}
	return i.Options[name]
}

// Field returns a named modal field, or "".
func (i Interaction) Field(name string) string {
	if i.Fields == nil {
		return ""
	}
	return i.Fields[name]
}

// Responder answers an interaction. Exactly one of Reply/Update/ShowModal
// (optionally after Defer) should conclude the interaction.
type Responder interface {
	// Reply sends a new response; ephemeral replies are visible only to the
	// initiator.
	Reply(ctx context.Context, n Notice, ephemeral bool) error
	// Update rewrites the message the component was attached to.
	Update(ctx context.Context, n Notice) error
	// Defer acknowledges within the platform deadline; a later Reply or
	// Update completes the exchange.
	Defer(ctx context.Context, ephemeral bool) error
	// ShowModal opens a modal form. Title plus up to five text inputs.
	ShowModal(ctx context.Context, m Modal) error
}

// Modal is a text-input form. Each input's Token identifies the field in the
// submit payload.
type Modal struct {
	Token  string
	Title  string
	Inputs []ModalInput
}

type ModalInput struct {
	Token       string
	Label       string
	Placeholder string
	Required    bool
	Paragraph   bool
	MaxLength   int
}

// Fetcher reads platform objects by id.
type Fetcher interface {
	FetchUser(ctx context.Context, id string) (*UserInfo, error)
	FetchChannel(ctx context.Context, id string) (*ChannelInfo, error)
	FetchServer(ctx context.Context, id string) (*ServerInfo, error)
}

// WebhookClient covers webhook provisioning and dispatch. Send returns the
// platform id of the dispatched message for broadcast-record correlation.
type WebhookClient interface {
	SendWebhook(ctx context.Context, url string, p WebhookPayload) (string, error)
	EditWebhookMessage(ctx context.Context, url, messageID string, p WebhookPayload) error
	DeleteWebhookMessage(ctx context.Context, url, messageID string) error
	CreateWebhook(ctx context.Context, channelID, name string) (string, error)
	ListChannelWebhooks(ctx context.Context, channelID string) ([]Webhook, error)
}

// Notifier posts bot-authored messages and typing indicators.
type Notifier interface {
	SendNotice(ctx context.Context, channelID string, n Notice) (string, error)
	EditNotice(ctx context.Context, channelID, messageID string, n Notice) error
	SendTyping(ctx context.Context, channelID string) error
}

// Transport is the full platform surface the relay consumes.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	RegisterCommands(ctx context.Context, cmds []Command) error
	Fetcher
	WebhookClient
	Notifier
}
