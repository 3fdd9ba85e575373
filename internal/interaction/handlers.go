package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/interchat-hq/interchat/internal/call"
	"github.com/interchat-hq/interchat/internal/config"
	"github.com/interchat-hq/interchat/internal/hubs"
	"github.com/interchat-hq/interchat/internal/moderation"
	"github.com/interchat-hq/interchat/internal/rules"
	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/token"
	"github.com/interchat-hq/interchat/internal/transport"
)

const faultReply = "Something went wrong on my side. Try again in a moment."

// Handlers owns every command and component handler and the services they
// drive. Register wires them into a Registry during startup.
type Handlers struct {
	cfg  *config.Config
	hubs *hubs.Service
	mm   *call.Matchmaker
	dir  *call.Directory
	mod  *moderation.Service
	gate *rules.Gate
}

func NewHandlers(cfg *config.Config, hubSvc *hubs.Service, mm *call.Matchmaker, dir *call.Directory, mod *moderation.Service, gate *rules.Gate) *Handlers {
	return &Handlers{cfg: cfg, hubs: hubSvc, mm: mm, dir: dir, mod: mod, gate: gate}
}

// Register populates the dispatch table. Command paths must match
// Definitions; component routes must match the tokens minted on notices.
func (h *Handlers) Register(r *Registry) {
	r.Command("call", h.callCmd)
	r.Command("hangup", h.hangupCmd)
	r.Command("skip", h.skipCmd)
	r.Command("report", h.reportCmd)

	r.Command("connection pause", h.connectionPause)
	r.Command("connection resume", h.connectionResume)
	r.Command("connection compact", h.connectionCompact)
	r.Command("connection color", h.connectionColor)

	r.Command("hub create", h.hubCreate)
	r.Command("hub join", h.hubJoin)
	r.Command("hub leave", h.hubLeave)
	r.Command("hub delete", h.hubDelete)
	r.Command("hub visibility", h.hubVisibility)
	r.Command("hub rules", h.hubRules)
	r.Command("hub toggle", h.hubToggle)
	r.Command("hub blacklist add", h.hubBlacklistAdd)
	r.Command("hub blacklist remove", h.hubBlacklistRemove)

	r.Command("mod ban", h.modBan)
	r.Command("mod unban", h.modUnban)
	r.Command("mod bans", h.modBans)
	r.Command("mod report", h.modReport)

	r.Component(call.TokenPrefix, call.TokenHangup, h.hangupCmd)
	r.Component(call.TokenPrefix, call.TokenSkip, h.skipCmd)
	r.Component(call.TokenPrefix, call.TokenReport, h.reportModal)
	r.Component(call.TokenPrefix, call.TokenReportSubmit, h.reportSubmit)

	r.Component(hubPrefix, hubRulesSubmit, h.hubRulesSubmitted)

	r.Component(rulesPrefix, rulesAccept, h.rulesAccept)
	r.Component(rulesPrefix, rulesDecline, h.rulesDecline)

	r.Component(modPrefix, modBanSuffix, h.modBanButton)
	r.Component(modPrefix, modDismissSuffix, h.modDismissButton)
}

func (h *Handlers) reply(ctx context.Context, in transport.Interaction, n transport.Notice, ephemeral bool) {
	if in.Responder == nil {
		return
	}
	if err := in.Responder.Reply(ctx, n, ephemeral); err != nil {
		slog.Debug("interaction reply failed", "error", err)
	}
}

// fault logs a service error and sends the generic failure reply.
func (h *Handlers) fault(ctx context.Context, in transport.Interaction, op string, err error) {
	slog.Error(op, "channel_id", in.ChannelID, "user_id", in.UserID, "error", err)
	replyEphemeral(ctx, in, faultReply)
}

func (h *Handlers) callCmd(ctx context.Context, in transport.Interaction, _ token.Token) {
	res, err := h.mm.Initiate(ctx, in.ChannelID, in.ServerID, in.UserID)
	if err != nil {
		h.fault(ctx, in, "initiate call failed", err)
		return
	}
	switch res.Outcome {
	case call.OutcomeQueued:
		h.reply(ctx, in, transport.Notice{Text: "⏳ You're in the queue. I'll connect this channel as soon as a partner turns up."}, false)
	case call.OutcomeConnected:
		// Both channels already got the connected notice.
		replyEphemeral(ctx, in, "🔗 Partner found!")
	case call.OutcomeAlreadyInCall:
		replyEphemeral(ctx, in, "This channel is already in a call. Use `/hangup` to end it first.")
	case call.OutcomeDenied:
		replyEphemeral(ctx, in, res.Reason)
	}
}

func (h *Handlers) hangupCmd(ctx context.Context, in transport.Interaction, _ token.Token) {
	ac, err := h.dir.ActiveFor(ctx, in.ChannelID)
	if errors.Is(err, call.ErrNotInCall) {
		replyEphemeral(ctx, in, "No active call in this channel.")
		return
	}
	if err != nil {
		h.fault(ctx, in, "resolve call failed", err)
		return
	}
	if err := h.mm.Hangup(ctx, in.ChannelID, in.UserID); err != nil {
		if errors.Is(err, call.ErrNotInCall) {
			replyEphemeral(ctx, in, "No active call in this channel.")
			return
		}
		h.fault(ctx, in, "hangup failed", err)
		return
	}
	h.reply(ctx, in, transport.Notice{
		Text:    "👋 Call ended.",
		Buttons: []transport.Button{call.ReportButton(ac.ID, h.mm.Retention())},
	}, false)
}

func (h *Handlers) skipCmd(ctx context.Context, in transport.Interaction, _ token.Token) {
	res, err := h.mm.Skip(ctx, in.ChannelID, in.ServerID, in.UserID)
	if err != nil {
		h.fault(ctx, in, "skip failed", err)
		return
	}
	switch res.Outcome {
	case call.OutcomeQueued:
		h.reply(ctx, in, transport.Notice{Text: "⏭️ Skipped. You're back in the queue for a new partner."}, false)
	case call.OutcomeConnected:
		replyEphemeral(ctx, in, "⏭️ Skipped, new partner found!")
	case call.OutcomeAlreadyInCall:
		replyEphemeral(ctx, in, "This channel is already in a call.")
	case call.OutcomeDenied:
		replyEphemeral(ctx, in, res.Reason)
	}
}

// reportCmd files a report for the call currently running in the channel.
// Ended calls are reported through the button on the call-ended notice.
func (h *Handlers) reportCmd(ctx context.Context, in transport.Interaction, _ token.Token) {
	ac, err := h.dir.ActiveFor(ctx, in.ChannelID)
	if errors.Is(err, call.ErrNotInCall) {
		replyEphemeral(ctx, in, "No call to report here. For a finished call, use the Report button on the call-ended notice.")
		return
	}
	if err != nil {
		h.fault(ctx, in, "resolve call failed", err)
		return
	}
	h.fileReport(ctx, in, ac.ID, in.Option("reason"))
}

// reportModal opens the reason form for an ended call's report button.
func (h *Handlers) reportModal(ctx context.Context, in transport.Interaction, tok token.Token) {
	encoded, err := token.Encode(token.New(call.TokenPrefix, call.TokenReportSubmit, tok.Arg(0)))
	if err != nil {
		h.fault(ctx, in, "encode report modal token", err)
		return
	}
	if in.Responder == nil {
		return
	}
	err = in.Responder.ShowModal(ctx, transport.Modal{
		Token: encoded,
		Title: "Report this call",
		Inputs: []transport.ModalInput{{
			Token:     "reason",
			Label:     "What happened?",
			Paragraph: true,
			Required:  true,
			MaxLength: 500,
		}},
	})
	if err != nil {
		slog.Debug("show report modal failed", "error", err)
	}
}

func (h *Handlers) reportSubmit(ctx context.Context, in transport.Interaction, tok token.Token) {
	h.fileReport(ctx, in, tok.Arg(0), in.Field("reason"))
}

func (h *Handlers) fileReport(ctx context.Context, in transport.Interaction, callID, reason string) {
	_, err := h.mod.FileReport(ctx, callID, in.UserID, reason)
	switch {
	case errors.Is(err, moderation.ErrAlreadyReported):
		replyEphemeral(ctx, in, "This call has already been reported. Staff will take a look.")
	case errors.Is(err, moderation.ErrCallNotFound):
		replyEphemeral(ctx, in, "That call's record has expired and can no longer be reported.")
	case err != nil:
		h.fault(ctx, in, "file report failed", err)
	default:
		replyEphemeral(ctx, in, "🚩 Thanks, the report is in. Our staff will review the call shortly.")
	}
}

func (h *Handlers) connectionPause(ctx context.Context, in transport.Interaction, _ token.Token) {
	switch err := h.hubs.Leave(ctx, in.ChannelID); {
	case errors.Is(err, hubs.ErrNotConnected):
		replyEphemeral(ctx, in, notConnectedReply)
	case err != nil:
		h.fault(ctx, in, "pause connection failed", err)
	default:
		h.reply(ctx, in, transport.Notice{Text: "⏸️ Connection paused. Use `/connection resume` to pick the conversation back up."}, false)
	}
}

func (h *Handlers) connectionResume(ctx context.Context, in transport.Interaction, _ token.Token) {
	switch err := h.hubs.Resume(ctx, in.ChannelID); {
	case errors.Is(err, hubs.ErrNotConnected):
		replyEphemeral(ctx, in, notConnectedReply)
	case err != nil:
		h.fault(ctx, in, "resume connection failed", err)
	default:
		h.reply(ctx, in, transport.Notice{Text: "▶️ Connection resumed. Messages relay again."}, false)
	}
}

func (h *Handlers) connectionCompact(ctx context.Context, in transport.Interaction, _ token.Token) {
	enabled := in.Option("enabled") == "true"
	switch err := h.hubs.SetCompact(ctx, in.ChannelID, enabled); {
	case errors.Is(err, hubs.ErrNotConnected):
		replyEphemeral(ctx, in, notConnectedReply)
	case err != nil:
		h.fault(ctx, in, "set compact failed", err)
	default:
		if enabled {
			replyEphemeral(ctx, in, "Compact mode on. Mirrored messages render as plain text.")
		} else {
			replyEphemeral(ctx, in, "Compact mode off. Mirrored messages render as embeds.")
		}
	}
}

var hexColorRe = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

func (h *Handlers) connectionColor(ctx context.Context, in transport.Interaction, _ token.Token) {
	hex := in.Option("hex")
	if !hexColorRe.MatchString(hex) {
		replyEphemeral(ctx, in, "That doesn't look like a color. Use six hex digits, like `#5865F2`.")
		return
	}
	if !strings.HasPrefix(hex, "#") {
		hex = "#" + hex
	}
	switch err := h.hubs.SetEmbedColor(ctx, in.ChannelID, hex); {
	case errors.Is(err, hubs.ErrNotConnected):
		replyEphemeral(ctx, in, notConnectedReply)
	case err != nil:
		h.fault(ctx, in, "set embed color failed", err)
	default:
		replyEphemeral(ctx, in, fmt.Sprintf("Embed color set to `%s`.", hex))
	}
}

// namedHub resolves the "hub" option, replying on failure. The bool reports
// whether the caller may proceed.
func (h *Handlers) namedHub(ctx context.Context, in transport.Interaction) (*store.Hub, bool) {
	name := in.Option("hub")
	hub, err := h.hubs.ByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		replyEphemeral(ctx, in, fmt.Sprintf("No hub named **%s**.", name))
		return nil, false
	}
	if err != nil {
		h.fault(ctx, in, "resolve hub failed", err)
		return nil, false
	}
	return hub, true
}
