package interaction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/token"
	"github.com/interchat-hq/interchat/internal/transport"
)

const (
	rulesPrefix  = "rules"
	rulesAccept  = "accept"
	rulesDecline = "decline"
)

// RulesNotice is the prompt posted when a hub's rules block a message. The
// buttons carry the hub id; any member of the channel may press them, and
// acceptance is recorded per presser.
func RulesNotice(hub *store.Hub) transport.Notice {
	var b strings.Builder
	for i, r := range hub.Rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	return transport.Notice{
		Text: "📋 Before chatting in this hub, please accept its rules.",
		Embed: &transport.Embed{
			Title:       "Rules of " + hub.Name,
			Description: b.String(),
		},
		Buttons: []transport.Button{
			rulesButton("Accept", transport.ButtonSuccess, rulesAccept, hub.ID),
			rulesButton("Decline", transport.ButtonSecondary, rulesDecline, hub.ID),
		},
	}
}

func rulesButton(label string, style transport.ButtonStyle, suffix, hubID string) transport.Button {
	encoded, err := token.Encode(token.New(rulesPrefix, suffix, hubID))
	if err != nil {
		slog.Error("encode rules token", "hub_id", hubID, "error", err)
		return transport.Button{Label: label, Token: "unroutable", Style: style, Disabled: true}
	}
	return transport.Button{Label: label, Token: encoded, Style: style}
}

func (h *Handlers) rulesAccept(ctx context.Context, in transport.Interaction, tok token.Token) {
	if err := h.gate.Accept(ctx, in.UserID, tok.Arg(0)); err != nil {
		h.fault(ctx, in, "record rules acceptance failed", err)
		return
	}
	// The prompt is shared by everyone in the channel; answer the presser
	// instead of editing it.
	replyEphemeral(ctx, in, "✅ Rules accepted. Send your message again and it will go through.")
}

func (h *Handlers) rulesDecline(ctx context.Context, in transport.Interaction, tok token.Token) {
	replyEphemeral(ctx, in, "Understood. Your messages won't relay to this hub until you accept its rules.")
}
