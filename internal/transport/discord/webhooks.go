package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/interchat-hq/interchat/internal/transport"
)

// Discord error code for a webhook that no longer exists.
const errCodeUnknownWebhook = 10015

// ParseWebhookURL splits a webhook URL into its id and token. Accepts
// discord.com and discordapp.com forms, with or without an API version
// segment.
func ParseWebhookURL(url string) (id, token string, err error) {
	_, rest, found := strings.Cut(url, "/webhooks/")
	if !found {
		return "", "", fmt.Errorf("not a webhook url: %q", url)
	}
	id, token, found = strings.Cut(rest, "/")
	if !found || id == "" || token == "" {
		return "", "", fmt.Errorf("malformed webhook url: %q", url)
	}
	if i := strings.IndexAny(token, "/?"); i >= 0 {
		token = token[:i]
	}
	return id, token, nil
}

// WebhookURL assembles the canonical URL for a created webhook.
func WebhookURL(id, token string) string {
	return "https://discord.com/api/webhooks/" + id + "/" + token
}

// SendWebhook dispatches one mirrored message and returns the platform id of
// the created message.
func (a *Adapter) SendWebhook(ctx context.Context, url string, p transport.WebhookPayload) (string, error) {
	id, token, err := ParseWebhookURL(url)
	if err != nil {
		return "", err
	}
	params := &discordgo.WebhookParams{
		Content:   p.Content,
		Username:  p.Username,
		AvatarURL: p.AvatarURL,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			// Mirrored content must never ping roles or everyone.
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}
	if p.Embed != nil {
		params.Embeds = []*discordgo.MessageEmbed{buildEmbed(p.Embed)}
	}
	msg, err := a.session.WebhookExecute(id, token, true, params, discordgo.WithContext(ctx))
	if err != nil {
		return "", classifyWebhookErr("execute webhook", err)
	}
	return msg.ID, nil
}

// EditWebhookMessage rewrites a previously dispatched mirrored message.
func (a *Adapter) EditWebhookMessage(ctx context.Context, url, messageID string, p transport.WebhookPayload) error {
	id, token, err := ParseWebhookURL(url)
	if err != nil {
		return err
	}
	edit := &discordgo.WebhookEdit{Content: &p.Content}
	if p.Embed != nil {
		embeds := []*discordgo.MessageEmbed{buildEmbed(p.Embed)}
		edit.Embeds = &embeds
	}
	_, err = a.session.WebhookMessageEdit(id, token, messageID, edit, discordgo.WithContext(ctx))
	if err != nil {
		return classifyWebhookErr("edit webhook message", err)
	}
	return nil
}

// DeleteWebhookMessage removes a previously dispatched mirrored message.
func (a *Adapter) DeleteWebhookMessage(ctx context.Context, url, messageID string) error {
	id, token, err := ParseWebhookURL(url)
	if err != nil {
		return err
	}
	if err := a.session.WebhookMessageDelete(id, token, messageID, discordgo.WithContext(ctx)); err != nil {
		return classifyWebhookErr("delete webhook message", err)
	}
	return nil
}

// CreateWebhook provisions a new webhook on the channel and returns its URL.
func (a *Adapter) CreateWebhook(ctx context.Context, channelID, name string) (string, error) {
	wh, err := a.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create webhook: %w", err)
	}
	return WebhookURL(wh.ID, wh.Token), nil
}

// ListChannelWebhooks returns the channel's webhooks. Only webhooks this
// application owns carry a token, so URL may be empty for foreign ones.
func (a *Adapter) ListChannelWebhooks(ctx context.Context, channelID string) ([]transport.Webhook, error) {
	hooks, err := a.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list channel webhooks: %w", err)
	}
	out := make([]transport.Webhook, 0, len(hooks))
	for _, wh := range hooks {
		w := transport.Webhook{
			ID:        wh.ID,
			ChannelID: wh.ChannelID,
			OwnerID:   wh.ApplicationID,
		}
		if wh.Token != "" {
			w.URL = WebhookURL(wh.ID, wh.Token)
		}
		out = append(out, w)
	}
	return out, nil
}

// classifyWebhookErr maps a dead webhook onto transport.ErrWebhookGone so
// callers re-provision instead of retrying.
func classifyWebhookErr(op string, err error) error {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		gone := rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound
		if rerr.Message != nil && rerr.Message.Code == errCodeUnknownWebhook {
			gone = true
		}
		if gone {
			return fmt.Errorf("%s: %w", op, transport.ErrWebhookGone)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
