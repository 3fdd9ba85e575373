// Package interaction routes inbound slash commands, component presses, and
// modal submits to their handlers. Slash commands dispatch on the flattened
// command path; components and modals dispatch on the (prefix, suffix) pair
// decoded from their codec token, so a press lands in the right handler on
// any process without server-side session state.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/interchat-hq/interchat/internal/token"
	"github.com/interchat-hq/interchat/internal/transport"
)

// HandlerFunc handles one interaction. For components and modals tok carries
// the decoded routing token; for slash commands it is the zero Token.
type HandlerFunc func(ctx context.Context, in transport.Interaction, tok token.Token)

type routeKey struct {
	prefix string
	suffix string
}

// Registry is the static dispatch table. Populate it during startup wiring;
// it is read-only afterwards and safe for concurrent Dispatch.
type Registry struct {
	commands   map[string]HandlerFunc
	components map[routeKey]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{
		commands:   make(map[string]HandlerFunc),
		components: make(map[routeKey]HandlerFunc),
	}
}

// Command registers a slash-command handler by its full path, e.g. "call" or
// "hub create". Duplicate registration is a wiring bug and panics.
func (r *Registry) Command(path string, h HandlerFunc) {
	if _, dup := r.commands[path]; dup {
		panic(fmt.Sprintf("interaction: duplicate command %q", path))
	}
	r.commands[path] = h
}

// Component registers a handler for component presses and modal submits whose
// token carries the given prefix and suffix.
func (r *Registry) Component(prefix, suffix string, h HandlerFunc) {
	k := routeKey{prefix: prefix, suffix: suffix}
	if _, dup := r.components[k]; dup {
		panic(fmt.Sprintf("interaction: duplicate component route %s:%s", prefix, suffix))
	}
	r.components[k] = h
}

// Dispatch routes one interaction. Unroutable and expired inputs get a short
// ephemeral reply; handler panics are contained so one bad press cannot take
// the gateway loop down.
func (r *Registry) Dispatch(ctx context.Context, in transport.Interaction) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("interaction handler panicked", "command", in.Command, "token", in.Token, "panic", rec)
		}
	}()

	switch in.Kind {
	case transport.KindSlash:
		h, ok := r.commands[in.Command]
		if !ok {
			slog.Warn("unknown command", "command", in.Command, "user_id", in.UserID)
			replyEphemeral(ctx, in, "Unknown command.")
			return
		}
		h(ctx, in, token.Token{})
	case transport.KindComponent, transport.KindModal:
		tok, err := token.Decode(in.Token)
		if err != nil {
			if errors.Is(err, token.ErrExpired) {
				replyEphemeral(ctx, in, "This control has expired. Run the command again.")
				return
			}
			slog.Warn("undecodable interaction token", "token", in.Token, "error", err)
			replyEphemeral(ctx, in, "This control is no longer valid.")
			return
		}
		h, ok := r.components[routeKey{prefix: tok.Prefix, suffix: tok.Suffix}]
		if !ok {
			slog.Warn("unroutable interaction token", "prefix", tok.Prefix, "suffix", tok.Suffix)
			replyEphemeral(ctx, in, "This control is no longer valid.")
			return
		}
		h(ctx, in, tok)
	}
}

func replyEphemeral(ctx context.Context, in transport.Interaction, text string) {
	if in.Responder == nil {
		return
	}
	if err := in.Responder.Reply(ctx, transport.Notice{Text: text}, true); err != nil {
		slog.Debug("interaction reply failed", "error", err)
	}
}
