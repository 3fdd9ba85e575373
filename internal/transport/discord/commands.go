package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/interchat-hq/interchat/internal/transport"
)

var optionTypes = map[transport.OptionType]discordgo.ApplicationCommandOptionType{
	transport.OptionString:  discordgo.ApplicationCommandOptionString,
	transport.OptionInteger: discordgo.ApplicationCommandOptionInteger,
	transport.OptionBoolean: discordgo.ApplicationCommandOptionBoolean,
	transport.OptionUser:    discordgo.ApplicationCommandOptionUser,
	transport.OptionChannel: discordgo.ApplicationCommandOptionChannel,
}

// RegisterCommands replaces the application's global command set. Discord
// propagates global commands lazily, so a restart with an unchanged set is
// a cheap no-op on their side.
func (a *Adapter) RegisterCommands(ctx context.Context, cmds []transport.Command) error {
	if a.appID == "" {
		return fmt.Errorf("register commands: adapter not started")
	}
	defs := make([]*discordgo.ApplicationCommand, 0, len(cmds))
	for _, c := range cmds {
		defs = append(defs, buildCommand(c))
	}
	_, err := a.session.ApplicationCommandBulkOverwrite(a.appID, "", defs, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

func buildCommand(c transport.Command) *discordgo.ApplicationCommand {
	def := &discordgo.ApplicationCommand{
		Name:        c.Name,
		Description: c.Description,
	}
	if len(c.Subcommands) > 0 {
		for _, sub := range c.Subcommands {
			def.Options = append(def.Options, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        sub.Name,
				Description: sub.Description,
				Options:     buildOptions(sub.Options),
			})
		}
		return def
	}
	def.Options = buildOptions(c.Options)
	return def
}

func buildOptions(opts []transport.CommandOption) []*discordgo.ApplicationCommandOption {
	if len(opts) == 0 {
		return nil
	}
	out := make([]*discordgo.ApplicationCommandOption, 0, len(opts))
	for _, o := range opts {
		def := &discordgo.ApplicationCommandOption{
			Type:        optionTypes[o.Type],
			Name:        o.Name,
			Description: o.Description,
			Required:    o.Required,
		}
		for _, ch := range o.Choices {
			def.Choices = append(def.Choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  ch.Name,
				Value: ch.Value,
			})
		}
		out = append(out, def)
	}
	return out
}
