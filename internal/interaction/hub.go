package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/interchat-hq/interchat/internal/hubs"
	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/token"
	"github.com/interchat-hq/interchat/internal/transport"
)

const (
	hubPrefix          = "hub"
	hubRulesSubmit     = "rules_submit"
	notOwnerReply      = "Only the hub's owner can do that."
	notConnectedReply  = "This channel isn't connected to a hub."
	maxRulesInputChars = 1000
)

var settingFlags = map[string]store.HubSettings{
	"block_nsfw":    store.SettingBlockNSFW,
	"spam_filter":   store.SettingSpamFilter,
	"block_invites": store.SettingBlockInvites,
	"hide_links":    store.SettingHideLinks,
}

func (h *Handlers) hubCreate(ctx context.Context, in transport.Interaction, _ token.Token) {
	private := in.Option("private") == "true"
	hub, err := h.hubs.Create(ctx, in.UserID, in.Option("name"), in.Option("description"), private)
	switch {
	case errors.Is(err, hubs.ErrBadName):
		replyEphemeral(ctx, in, "Hub names are 3 to 32 characters with no backticks, mentions, or line breaks.")
	case errors.Is(err, store.ErrDuplicateName):
		replyEphemeral(ctx, in, "That name is already taken.")
	case errors.Is(err, hubs.ErrQuotaExceeded):
		replyEphemeral(ctx, in, "You already own the maximum number of hubs.")
	case err != nil:
		h.fault(ctx, in, "create hub failed", err)
	default:
		replyEphemeral(ctx, in, fmt.Sprintf("✅ Hub **%s** created. Run `/hub join hub:%s` in the channels you want to connect.", hub.Name, hub.Name))
	}
}

func (h *Handlers) hubJoin(ctx context.Context, in transport.Interaction, _ token.Token) {
	name := in.Option("hub")
	_, err := h.hubs.Join(ctx, name, in.ChannelID, in.ServerID, in.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		replyEphemeral(ctx, in, fmt.Sprintf("No hub named **%s**.", name))
	case errors.Is(err, hubs.ErrPrivateHub):
		replyEphemeral(ctx, in, "That hub is private.")
	case errors.Is(err, hubs.ErrAlreadyConnected):
		replyEphemeral(ctx, in, "This channel is already connected to a hub. Use `/hub leave` first.")
	case err != nil:
		h.fault(ctx, in, "join hub failed", err)
	default:
		h.reply(ctx, in, transport.Notice{Text: fmt.Sprintf("🌐 This channel is now part of **%s**. Say hi!", name)}, false)
	}
}

func (h *Handlers) hubLeave(ctx context.Context, in transport.Interaction, _ token.Token) {
	switch err := h.hubs.Leave(ctx, in.ChannelID); {
	case errors.Is(err, hubs.ErrNotConnected):
		replyEphemeral(ctx, in, notConnectedReply)
	case err != nil:
		h.fault(ctx, in, "leave hub failed", err)
	default:
		h.reply(ctx, in, transport.Notice{Text: "👋 Disconnected from the hub. `/connection resume` brings it back."}, false)
	}
}

func (h *Handlers) hubDelete(ctx context.Context, in transport.Interaction, _ token.Token) {
	hub, ok := h.namedHub(ctx, in)
	if !ok {
		return
	}
	switch err := h.hubs.Delete(ctx, hub.ID, in.UserID); {
	case errors.Is(err, hubs.ErrNotOwner):
		replyEphemeral(ctx, in, notOwnerReply)
	case err != nil:
		h.fault(ctx, in, "delete hub failed", err)
	default:
		replyEphemeral(ctx, in, fmt.Sprintf("🗑️ Hub **%s** and all its connections are gone.", hub.Name))
	}
}

func (h *Handlers) hubVisibility(ctx context.Context, in transport.Interaction, _ token.Token) {
	hub, ok := h.namedHub(ctx, in)
	if !ok {
		return
	}
	private := in.Option("private") == "true"
	switch err := h.hubs.SetVisibility(ctx, hub.ID, in.UserID, private); {
	case errors.Is(err, hubs.ErrNotOwner):
		replyEphemeral(ctx, in, notOwnerReply)
	case err != nil:
		h.fault(ctx, in, "set visibility failed", err)
	default:
		state := "public: anyone can join"
		if private {
			state = "private: no new joins"
		}
		replyEphemeral(ctx, in, fmt.Sprintf("Hub **%s** is now %s.", hub.Name, state))
	}
}

// hubRules opens the rules editor modal, prefilling nothing; the submit
// handler replaces the whole list.
func (h *Handlers) hubRules(ctx context.Context, in transport.Interaction, _ token.Token) {
	hub, ok := h.namedHub(ctx, in)
	if !ok {
		return
	}
	if hub.OwnerUserID != in.UserID {
		replyEphemeral(ctx, in, notOwnerReply)
		return
	}
	encoded, err := token.Encode(token.New(hubPrefix, hubRulesSubmit, hub.ID))
	if err != nil {
		h.fault(ctx, in, "encode rules modal token", err)
		return
	}
	if in.Responder == nil {
		return
	}
	err = in.Responder.ShowModal(ctx, transport.Modal{
		Token: encoded,
		Title: "Edit hub rules",
		Inputs: []transport.ModalInput{{
			Token:       "rules",
			Label:       "One rule per line",
			Placeholder: "Be kind.\nNo advertising.",
			Paragraph:   true,
			MaxLength:   maxRulesInputChars,
		}},
	})
	if err != nil {
		slog.Debug("show rules modal failed", "error", err)
	}
}

func (h *Handlers) hubRulesSubmitted(ctx context.Context, in transport.Interaction, tok token.Token) {
	var lines []string
	for _, l := range strings.Split(in.Field("rules"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	switch err := h.hubs.SetRules(ctx, tok.Arg(0), in.UserID, lines); {
	case errors.Is(err, hubs.ErrNotOwner):
		replyEphemeral(ctx, in, notOwnerReply)
	case err != nil:
		h.fault(ctx, in, "set rules failed", err)
	default:
		replyEphemeral(ctx, in, fmt.Sprintf("📏 Rules updated: %d rule(s). Members will be asked to accept them before chatting.", len(lines)))
	}
}

func (h *Handlers) hubToggle(ctx context.Context, in transport.Interaction, _ token.Token) {
	hub, ok := h.namedHub(ctx, in)
	if !ok {
		return
	}
	name := in.Option("setting")
	flag, known := settingFlags[name]
	if !known {
		replyEphemeral(ctx, in, "Unknown setting.")
		return
	}
	on, err := h.hubs.Toggle(ctx, hub.ID, in.UserID, flag)
	switch {
	case errors.Is(err, hubs.ErrNotOwner):
		replyEphemeral(ctx, in, notOwnerReply)
	case err != nil:
		h.fault(ctx, in, "toggle setting failed", err)
	default:
		state := "off"
		if on {
			state = "on"
		}
		replyEphemeral(ctx, in, fmt.Sprintf("Setting `%s` is now **%s** for **%s**.", name, state, hub.Name))
	}
}

func (h *Handlers) hubBlacklistAdd(ctx context.Context, in transport.Interaction, _ token.Token) {
	hub, ok := h.namedHub(ctx, in)
	if !ok {
		return
	}
	entry := store.BlacklistEntry{
		SubjectKind:     store.SubjectKind(in.Option("kind")),
		SubjectID:       in.Option("id"),
		Reason:          in.Option("reason"),
		ModeratorUserID: in.UserID,
	}
	switch err := h.hubs.Blacklist(ctx, hub.ID, in.UserID, entry); {
	case errors.Is(err, hubs.ErrNotOwner):
		replyEphemeral(ctx, in, notOwnerReply)
	case err != nil:
		h.fault(ctx, in, "blacklist add failed", err)
	default:
		replyEphemeral(ctx, in, fmt.Sprintf("⛔ Blacklisted %s `%s` from **%s**.", entry.SubjectKind, entry.SubjectID, hub.Name))
	}
}

func (h *Handlers) hubBlacklistRemove(ctx context.Context, in transport.Interaction, _ token.Token) {
	hub, ok := h.namedHub(ctx, in)
	if !ok {
		return
	}
	id := in.Option("id")
	switch err := h.hubs.Unblacklist(ctx, hub.ID, in.UserID, id); {
	case errors.Is(err, hubs.ErrNotOwner):
		replyEphemeral(ctx, in, notOwnerReply)
	case err != nil:
		h.fault(ctx, in, "blacklist remove failed", err)
	default:
		replyEphemeral(ctx, in, fmt.Sprintf("Removed `%s` from the blacklist of **%s**.", id, hub.Name))
	}
}
