package interaction

import "github.com/interchat-hq/interchat/internal/transport"

// Definitions lists every slash command the relay registers with the
// platform. Paths here must match the Registry.Command registrations in
// Handlers.Register; the dispatcher joins subcommands with a space.
func Definitions() []transport.Command {
	subjectKind := transport.CommandOption{
		Name: "kind", Description: "Subject kind", Type: transport.OptionString, Required: true,
		Choices: []transport.Choice{{Name: "user", Value: "user"}, {Name: "server", Value: "server"}},
	}
	hubName := transport.CommandOption{
		Name: "hub", Description: "Hub name", Type: transport.OptionString, Required: true,
	}

	return []transport.Command{
		{Name: "call", Description: "Find a random partner channel to chat with"},
		{Name: "hangup", Description: "End this channel's current call"},
		{Name: "skip", Description: "End the current call and find a new partner"},
		{
			Name: "report", Description: "Report the call happening in this channel",
			Options: []transport.CommandOption{
				{Name: "reason", Description: "What went wrong", Type: transport.OptionString, Required: true},
			},
		},
		{
			Name: "connection", Description: "Manage this channel's hub connection",
			Subcommands: []transport.Command{
				{Name: "pause", Description: "Stop relaying hub messages in this channel"},
				{Name: "resume", Description: "Resume relaying hub messages in this channel"},
				{
					Name: "compact", Description: "Toggle compact rendering for mirrored messages",
					Options: []transport.CommandOption{
						{Name: "enabled", Description: "Render without embeds", Type: transport.OptionBoolean, Required: true},
					},
				},
				{
					Name: "color", Description: "Set the embed color for mirrored messages",
					Options: []transport.CommandOption{
						{Name: "hex", Description: "Color like #5865F2", Type: transport.OptionString, Required: true},
					},
				},
			},
		},
		{
			Name: "hub", Description: "Create and manage hubs",
			Subcommands: []transport.Command{
				{
					Name: "create", Description: "Create a new hub",
					Options: []transport.CommandOption{
						{Name: "name", Description: "Hub name, 3 to 32 characters", Type: transport.OptionString, Required: true},
						{Name: "description", Description: "What the hub is about", Type: transport.OptionString},
						{Name: "private", Description: "Hide the hub from joins", Type: transport.OptionBoolean},
					},
				},
				{
					Name: "join", Description: "Connect this channel to a hub",
					Options: []transport.CommandOption{hubName},
				},
				{Name: "leave", Description: "Disconnect this channel from its hub"},
				{
					Name: "delete", Description: "Delete a hub you own",
					Options: []transport.CommandOption{hubName},
				},
				{
					Name: "visibility", Description: "Make a hub you own private or public",
					Options: []transport.CommandOption{
						hubName,
						{Name: "private", Description: "Private hubs accept no new joins", Type: transport.OptionBoolean, Required: true},
					},
				},
				{
					Name: "rules", Description: "Edit the rules of a hub you own",
					Options: []transport.CommandOption{hubName},
				},
				{
					Name: "toggle", Description: "Flip a moderation setting on a hub you own",
					Options: []transport.CommandOption{
						hubName,
						{
							Name: "setting", Description: "Setting to flip", Type: transport.OptionString, Required: true,
							Choices: []transport.Choice{
								{Name: "Block NSFW images", Value: "block_nsfw"},
								{Name: "Spam filter", Value: "spam_filter"},
								{Name: "Block server invites", Value: "block_invites"},
								{Name: "Hide links", Value: "hide_links"},
							},
						},
					},
				},
				{
					Name: "blacklist", Description: "Manage a hub's blacklist",
					Subcommands: []transport.Command{
						{
							Name: "add", Description: "Blacklist a user or server from a hub you own",
							Options: []transport.CommandOption{
								hubName, subjectKind,
								{Name: "id", Description: "User or server id", Type: transport.OptionString, Required: true},
								{Name: "reason", Description: "Why", Type: transport.OptionString},
							},
						},
						{
							Name: "remove", Description: "Remove a blacklist entry",
							Options: []transport.CommandOption{
								hubName, subjectKind,
								{Name: "id", Description: "User or server id", Type: transport.OptionString, Required: true},
							},
						},
					},
				},
			},
		},
		{
			Name: "mod", Description: "Staff moderation tools",
			Subcommands: []transport.Command{
				{
					Name: "ban", Description: "Ban a user or server from the relay",
					Options: []transport.CommandOption{
						subjectKind,
						{Name: "id", Description: "User or server id", Type: transport.OptionString, Required: true},
						{Name: "reason", Description: "Why", Type: transport.OptionString, Required: true},
						{Name: "duration", Description: "Like 72h; omit for permanent", Type: transport.OptionString},
					},
				},
				{
					Name: "unban", Description: "Revoke an active ban",
					Options: []transport.CommandOption{
						{Name: "ban_id", Description: "Ban id from /mod bans", Type: transport.OptionString, Required: true},
					},
				},
				{Name: "bans", Description: "List recent bans"},
				{
					Name: "report", Description: "Open a reported call's moderation panel",
					Options: []transport.CommandOption{
						{Name: "call_id", Description: "Call id from the report", Type: transport.OptionString, Required: true},
					},
				},
			},
		},
	}
}
