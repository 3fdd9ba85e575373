package discord

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/interchat-hq/interchat/internal/transport"
)

// handleInteraction converts slash commands, component presses, and modal
// submits into the platform-neutral Interaction sum.
func (a *Adapter) handleInteraction(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if a.handlers.OnInteraction == nil {
		return
	}

	in := transport.Interaction{
		ChannelID: ic.ChannelID,
		ServerID:  ic.GuildID,
	}
	if ic.Member != nil && ic.Member.User != nil {
		in.UserID = ic.Member.User.ID
		in.UserName = memberDisplayName(ic.Member)
		in.AvatarURL = ic.Member.User.AvatarURL("")
	} else if ic.User != nil {
		in.UserID = ic.User.ID
		in.UserName = ic.User.Username
		in.AvatarURL = ic.User.AvatarURL("")
	}

	switch ic.Type {
	case discordgo.InteractionApplicationCommand:
		data := ic.ApplicationCommandData()
		in.Kind = transport.KindSlash
		in.Command, in.Options = flattenCommand(data.Name, data.Options)
	case discordgo.InteractionMessageComponent:
		data := ic.MessageComponentData()
		in.Kind = transport.KindComponent
		in.Token = data.CustomID
		in.Values = data.Values
	case discordgo.InteractionModalSubmit:
		data := ic.ModalSubmitData()
		in.Kind = transport.KindModal
		in.Token = data.CustomID
		in.Fields = modalFields(data.Components)
	default:
		return
	}

	in.Responder = &responder{s: s, i: ic.Interaction, kind: in.Kind}
	a.handlers.OnInteraction(context.Background(), in)
}

func memberDisplayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

// flattenCommand joins subcommand paths into a single space-separated name
// and stringifies the leaf options.
func flattenCommand(name string, opts []*discordgo.ApplicationCommandInteractionDataOption) (string, map[string]string) {
	for len(opts) == 1 &&
		(opts[0].Type == discordgo.ApplicationCommandOptionSubCommand ||
			opts[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup) {
		name += " " + opts[0].Name
		opts = opts[0].Options
	}
	if len(opts) == 0 {
		return name, nil
	}
	values := make(map[string]string, len(opts))
	for _, o := range opts {
		values[o.Name] = optionString(o)
	}
	return name, values
}

func optionString(o *discordgo.ApplicationCommandInteractionDataOption) string {
	switch o.Type {
	case discordgo.ApplicationCommandOptionString:
		return o.StringValue()
	case discordgo.ApplicationCommandOptionInteger:
		return strconv.FormatInt(o.IntValue(), 10)
	case discordgo.ApplicationCommandOptionBoolean:
		return strconv.FormatBool(o.BoolValue())
	default:
		// User, channel, and role options arrive as snowflake strings.
		if s, ok := o.Value.(string); ok {
			return s
		}
		return fmt.Sprint(o.Value)
	}
}

func modalFields(rows []discordgo.MessageComponent) map[string]string {
	fields := map[string]string{}
	for _, row := range rows {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, comp := range ar.Components {
			if ti, ok := comp.(*discordgo.TextInput); ok {
				fields[ti.CustomID] = ti.Value
			}
		}
	}
	return fields
}

// responder answers one interaction. Discord requires the first response
// within a short deadline; acked tracks whether that first response (or a
// defer) has been sent so later calls switch to the followup endpoints.
type responder struct {
	s     *discordgo.Session
	i     *discordgo.Interaction
	kind  transport.InteractionKind
	acked bool
}

func (r *responder) Reply(ctx context.Context, n transport.Notice, ephemeral bool) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if r.acked {
		_, err := r.s.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{
			Content:    n.Text,
			Embeds:     noticeEmbeds(n),
			Components: buildComponents(n),
			Flags:      flags,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("interaction followup: %w", err)
		}
		return nil
	}
	err := r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    n.Text,
			Embeds:     noticeEmbeds(n),
			Components: buildComponents(n),
			Flags:      flags,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("interaction reply: %w", err)
	}
	r.acked = true
	return nil
}

func (r *responder) Update(ctx context.Context, n transport.Notice) error {
	if r.acked {
		embeds := noticeEmbeds(n)
		components := buildComponents(n)
		_, err := r.s.InteractionResponseEdit(r.i, &discordgo.WebhookEdit{
			Content:    &n.Text,
			Embeds:     &embeds,
			Components: &components,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("interaction edit: %w", err)
		}
		return nil
	}
	err := r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    n.Text,
			Embeds:     noticeEmbeds(n),
			Components: buildComponents(n),
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("interaction update: %w", err)
	}
	r.acked = true
	return nil
}

func (r *responder) Defer(ctx context.Context, ephemeral bool) error {
	resp := &discordgo.InteractionResponse{}
	if r.kind == transport.KindComponent {
		resp.Type = discordgo.InteractionResponseDeferredMessageUpdate
	} else {
		resp.Type = discordgo.InteractionResponseDeferredChannelMessageWithSource
		if ephemeral {
			resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
		}
	}
	if err := r.s.InteractionRespond(r.i, resp, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("interaction defer: %w", err)
	}
	r.acked = true
	return nil
}

func (r *responder) ShowModal(ctx context.Context, m transport.Modal) error {
	var rows []discordgo.MessageComponent
	for _, in := range m.Inputs {
		style := discordgo.TextInputShort
		if in.Paragraph {
			style = discordgo.TextInputParagraph
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{
				CustomID:    in.Token,
				Label:       in.Label,
				Style:       style,
				Placeholder: in.Placeholder,
				Required:    in.Required,
				MaxLength:   in.MaxLength,
			},
		}})
	}
	err := r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   m.Token,
			Title:      m.Title,
			Components: rows,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("interaction modal: %w", err)
	}
	r.acked = true
	return nil
}
