package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/interchat-hq/interchat/internal/call"
	"github.com/interchat-hq/interchat/internal/moderation"
	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/token"
	"github.com/interchat-hq/interchat/internal/transport"
)

const (
	modPrefix        = "mod"
	modBanSuffix     = "ban"     // args: callID, subject kind, subject id
	modDismissSuffix = "dismiss" // args: callID
)

// staffOnly gates the moderation surface. It replies on denial.
func (h *Handlers) staffOnly(ctx context.Context, in transport.Interaction) bool {
	if h.cfg.IsAdmin(in.UserID) {
		return true
	}
	slog.Warn("moderation command refused", "user_id", in.UserID, "command", in.Command)
	replyEphemeral(ctx, in, "This command is restricted to InterChat staff.")
	return false
}

func (h *Handlers) modBan(ctx context.Context, in transport.Interaction, _ token.Token) {
	if !h.staffOnly(ctx, in) {
		return
	}
	req := moderation.BanRequest{
		ModeratorUserID: in.UserID,
		SubjectKind:     store.SubjectKind(in.Option("kind")),
		SubjectID:       in.Option("id"),
		Reason:          in.Option("reason"),
		Kind:            store.BanPermanent,
	}
	if raw := in.Option("duration"); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil || dur <= 0 {
			replyEphemeral(ctx, in, "I can't read that duration. Use something like `72h`, or omit it for a permanent ban.")
			return
		}
		req.Kind = store.BanTemporary
		req.Duration = dur
	}
	ban, err := h.mod.CreateBan(ctx, req)
	switch {
	case errors.Is(err, store.ErrActiveBanExists):
		replyEphemeral(ctx, in, "That subject already has an active ban.")
	case err != nil:
		h.fault(ctx, in, "create ban failed", err)
	default:
		until := "permanently"
		if ban.Kind == store.BanTemporary {
			until = "until " + ban.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")
		}
		replyEphemeral(ctx, in, fmt.Sprintf("🔨 Banned %s `%s` %s. Ban id: `%s`.", req.SubjectKind, req.SubjectID, until, ban.ID))
	}
}

func (h *Handlers) modUnban(ctx context.Context, in transport.Interaction, _ token.Token) {
	if !h.staffOnly(ctx, in) {
		return
	}
	banID := in.Option("ban_id")
	switch err := h.mod.RevokeBan(ctx, banID, in.UserID); {
	case errors.Is(err, store.ErrNotFound):
		replyEphemeral(ctx, in, "No ban with that id.")
	case errors.Is(err, store.ErrNotRevokable):
		replyEphemeral(ctx, in, "That ban isn't active; only active bans can be revoked.")
	case err != nil:
		h.fault(ctx, in, "revoke ban failed", err)
	default:
		replyEphemeral(ctx, in, "↩️ Ban revoked.")
	}
}

func (h *Handlers) modBans(ctx context.Context, in transport.Interaction, _ token.Token) {
	if !h.staffOnly(ctx, in) {
		return
	}
	bans, err := h.mod.RecentBans(ctx, 10)
	if err != nil {
		h.fault(ctx, in, "list bans failed", err)
		return
	}
	if len(bans) == 0 {
		replyEphemeral(ctx, in, "No bans on record.")
		return
	}
	now := time.Now()
	var b strings.Builder
	for _, ban := range bans {
		fmt.Fprintf(&b, "`%s` %s `%s` [%s] %s\n", ban.ID, ban.SubjectKind, ban.SubjectID, ban.EffectiveStatus(now), ban.Reason)
	}
	h.reply(ctx, in, transport.Notice{
		Embed: &transport.Embed{Title: "Recent bans", Description: b.String()},
	}, true)
}

func (h *Handlers) modReport(ctx context.Context, in transport.Interaction, _ token.Token) {
	if !h.staffOnly(ctx, in) {
		return
	}
	callID := in.Option("call_id")
	rv, err := h.mod.ViewReport(ctx, callID)
	if errors.Is(err, moderation.ErrReportNotFound) {
		replyEphemeral(ctx, in, "No report for that call id.")
		return
	}
	if err != nil {
		h.fault(ctx, in, "view report failed", err)
		return
	}
	h.reply(ctx, in, reportPanel(rv), true)
}

// reportPanel renders a report with its retained call context. While the
// report is OPEN each side gets ban buttons; a resolved or dismissed report
// renders read-only.
func reportPanel(rv *moderation.ReportView) transport.Notice {
	r := rv.Report
	var b strings.Builder
	fmt.Fprintf(&b, "**Reason:** %s\n**Reporter:** `%s`\n**Status:** %s\n**Filed:** %s\n",
		r.Reason, r.ReporterUserID, r.Status, r.ReportedAt.UTC().Format("2006-01-02 15:04 MST"))
	if len(r.BannedSubjects) > 0 {
		fmt.Fprintf(&b, "**Banned:** %s\n", strings.Join(r.BannedSubjects, ", "))
	}

	embed := &transport.Embed{Title: "Call report " + r.CallID, Description: b.String()}
	var buttons []transport.Button

	if rv.Call != nil {
		for i := range rv.Call.Participants {
			p := &rv.Call.Participants[i]
			embed.Fields = append(embed.Fields, transport.EmbedField{
				Name:   fmt.Sprintf("Channel %s (server %s)", p.ChannelID, p.ServerID),
				Value:  "users: " + strings.Join(p.Users, ", "),
				Inline: true,
			})
			if r.Status == moderation.ReportOpen {
				if len(p.Users) > 0 {
					buttons = append(buttons, modButton("Ban user "+p.Users[0], transport.ButtonDanger,
						modBanSuffix, r.CallID, string(store.SubjectUser), p.Users[0]))
				}
				buttons = append(buttons, modButton("Ban server "+p.ServerID, transport.ButtonDanger,
					modBanSuffix, r.CallID, string(store.SubjectServer), p.ServerID))
			}
		}
	}
	if excerpt := ringExcerpt(rv.Messages, 10); excerpt != "" {
		embed.Fields = append(embed.Fields, transport.EmbedField{Name: "Last messages", Value: excerpt})
	}
	if r.Status == moderation.ReportOpen {
		buttons = append(buttons, modButton("Dismiss", transport.ButtonSecondary, modDismissSuffix, r.CallID))
	}
	return transport.Notice{Embed: embed, Buttons: buttons}
}

func ringExcerpt(entries []call.RingEntry, max int) string {
	if len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	var b strings.Builder
	for _, e := range entries {
		content := e.Content
		if runes := []rune(content); len(runes) > 120 {
			content = string(runes[:120]) + "…"
		}
		fmt.Fprintf(&b, "**%s**: %s\n", e.AuthorName, content)
	}
	return b.String()
}

func modButton(label string, style transport.ButtonStyle, suffix string, args ...string) transport.Button {
	encoded, err := token.Encode(token.New(modPrefix, suffix, args...))
	if err != nil {
		slog.Error("encode moderation token", "suffix", suffix, "error", err)
		return transport.Button{Label: label, Token: "unroutable", Style: style, Disabled: true}
	}
	return transport.Button{Label: label, Token: encoded, Style: style}
}

func (h *Handlers) modBanButton(ctx context.Context, in transport.Interaction, tok token.Token) {
	if !h.staffOnly(ctx, in) {
		return
	}
	callID := tok.Arg(0)
	target := moderation.Target{Kind: store.SubjectKind(tok.Arg(1)), ID: tok.Arg(2)}
	results, err := h.mod.BanFromCall(ctx, callID, in.UserID, []moderation.Target{target}, store.BanPermanent, 0)
	if err != nil {
		h.fault(ctx, in, "ban from call failed", err)
		return
	}
	if res := results[0]; res.Err != nil {
		if errors.Is(res.Err, store.ErrActiveBanExists) {
			replyEphemeral(ctx, in, "That subject already has an active ban.")
			return
		}
		h.fault(ctx, in, "ban from call failed", res.Err)
		return
	}
	replyEphemeral(ctx, in, fmt.Sprintf("🔨 Banned %s `%s` and resolved the report.", target.Kind, target.ID))
}

func (h *Handlers) modDismissButton(ctx context.Context, in transport.Interaction, tok token.Token) {
	if !h.staffOnly(ctx, in) {
		return
	}
	callID := tok.Arg(0)
	if err := h.mod.DismissReport(ctx, callID, in.UserID); err != nil {
		switch {
		case errors.Is(err, moderation.ErrReportNotFound):
			replyEphemeral(ctx, in, "That report is gone.")
		case errors.Is(err, moderation.ErrReportClosed):
			replyEphemeral(ctx, in, "That report was already handled.")
		default:
			h.fault(ctx, in, "dismiss report failed", err)
		}
		return
	}
	if in.Responder == nil {
		return
	}
	if err := in.Responder.Update(ctx, transport.Notice{
		Text: fmt.Sprintf("Report for call `%s` dismissed by `%s`.", callID, in.UserID),
	}); err != nil {
		slog.Debug("update dismissed report failed", "error", err)
	}
}
