package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/interchat-hq/interchat/internal/transport"
)

func buildEmbed(e *transport.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
		URL:         e.URL,
	}
	if e.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.Thumbnail != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return out
}

var buttonStyles = map[transport.ButtonStyle]discordgo.ButtonStyle{
	transport.ButtonPrimary:   discordgo.PrimaryButton,
	transport.ButtonSecondary: discordgo.SecondaryButton,
	transport.ButtonSuccess:   discordgo.SuccessButton,
	transport.ButtonDanger:    discordgo.DangerButton,
	transport.ButtonLink:      discordgo.LinkButton,
}

// buildComponents lays out buttons in rows of five plus an optional select
// row, the platform's layout constraints.
func buildComponents(n transport.Notice) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent

	var row []discordgo.MessageComponent
	for _, b := range n.Buttons {
		btn := discordgo.Button{
			Label:    b.Label,
			Style:    buttonStyles[b.Style],
			Disabled: b.Disabled,
		}
		if b.Style == transport.ButtonLink {
			btn.URL = b.URL
		} else {
			btn.CustomID = b.Token
		}
		if b.Emoji != "" {
			btn.Emoji = &discordgo.ComponentEmoji{Name: b.Emoji}
		}
		row = append(row, btn)
		if len(row) == 5 {
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}

	if n.Select != nil {
		menu := discordgo.SelectMenu{
			CustomID:    n.Select.Token,
			Placeholder: n.Select.Placeholder,
		}
		if n.Select.MinValues > 0 {
			mv := n.Select.MinValues
			menu.MinValues = &mv
		}
		if n.Select.MaxValues > 0 {
			menu.MaxValues = n.Select.MaxValues
		}
		for _, o := range n.Select.Options {
			opt := discordgo.SelectMenuOption{
				Label:       o.Label,
				Value:       o.Value,
				Description: o.Description,
			}
			if o.Emoji != "" {
				opt.Emoji = &discordgo.ComponentEmoji{Name: o.Emoji}
			}
			menu.Options = append(menu.Options, opt)
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{menu}})
	}
	return rows
}

func noticeEmbeds(n transport.Notice) []*discordgo.MessageEmbed {
	if n.Embed == nil {
		return nil
	}
	return []*discordgo.MessageEmbed{buildEmbed(n.Embed)}
}

// SendNotice posts a bot-authored message and returns its id.
func (a *Adapter) SendNotice(ctx context.Context, channelID string, n transport.Notice) (string, error) {
	msg, err := a.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    n.Text,
		Embeds:     noticeEmbeds(n),
		Components: buildComponents(n),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send notice: %w", err)
	}
	return msg.ID, nil
}

// EditNotice rewrites a previously posted bot message, replacing its
// components wholesale (the way interactive screens advance).
func (a *Adapter) EditNotice(ctx context.Context, channelID, messageID string, n transport.Notice) error {
	embeds := noticeEmbeds(n)
	components := buildComponents(n)
	_, err := a.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         messageID,
		Channel:    channelID,
		Content:    &n.Text,
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("edit notice: %w", err)
	}
	return nil
}
