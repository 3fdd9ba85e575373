// Package webhooks provisions and repairs the per-channel webhooks used to
// mirror hub messages. Delivery workers call Ensure lazily on first use;
// concurrent first sends into the same channel are coalesced so a channel
// never ends up with a pile of identical webhooks.
package webhooks

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/transport"
)

// DefaultName is the display name given to webhooks the relay creates.
const DefaultName = "InterChat Relay"

// Client is the slice of the transport a Provisioner needs.
type Client interface {
	CreateWebhook(ctx context.Context, channelID, name string) (string, error)
	ListChannelWebhooks(ctx context.Context, channelID string) ([]transport.Webhook, error)
}

type Provisioner struct {
	client Client
	conns  store.ConnectionStore
	botID  string
	name   string
	flight singleflight.Group
}

func NewProvisioner(client Client, conns store.ConnectionStore, botID string) *Provisioner {
	return &Provisioner{
		client: client,
		conns:  conns,
		botID:  botID,
		name:   DefaultName,
	}
}

// Ensure returns a usable webhook URL for the connection, creating one when
// none is recorded. Concurrent calls for the same channel share one flight.
func (p *Provisioner) Ensure(ctx context.Context, conn *store.Connection) (string, error) {
	if conn.WebhookURL != "" {
		return conn.WebhookURL, nil
	}
	v, err, _ := p.flight.Do(conn.ChannelID, func() (any, error) {
		return p.provision(ctx, conn.ChannelID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// EnsureChannel provisions a webhook for a channel that has no Connection
// row, such as a call channel. Nothing is recorded in the store; the caller
// keeps the URL for the lifetime it needs.
func (p *Provisioner) EnsureChannel(ctx context.Context, channelID string) (string, error) {
	v, err, _ := p.flight.Do(channelID, func() (any, error) {
		return p.acquire(ctx, channelID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Provisioner) provision(ctx context.Context, channelID string) (string, error) {
	// A sibling flight may have landed between the caller's read and ours.
	if c, err := p.conns.Find(ctx, channelID); err == nil && c.WebhookURL != "" {
		return c.WebhookURL, nil
	}

	url, created, err := p.acquireDetail(ctx, channelID)
	if err != nil {
		return "", err
	}
	if err := p.conns.SetWebhookURL(ctx, channelID, url); err != nil {
		if !created {
			return "", fmt.Errorf("record webhook url: %w", err)
		}
		// The webhook exists either way; the next Ensure will find and
		// reuse it through the listing path.
		slog.Warn("failed to record webhook url", "channel_id", channelID, "error", err)
	}
	return url, nil
}

func (p *Provisioner) acquire(ctx context.Context, channelID string) (string, error) {
	url, _, err := p.acquireDetail(ctx, channelID)
	return url, err
}

func (p *Provisioner) acquireDetail(ctx context.Context, channelID string) (url string, created bool, err error) {
	if url := p.reusable(ctx, channelID); url != "" {
		slog.Debug("reusing existing webhook", "channel_id", channelID)
		return url, false, nil
	}
	url, err = p.client.CreateWebhook(ctx, channelID, p.name)
	if err != nil {
		return "", false, fmt.Errorf("create webhook: %w", err)
	}
	slog.Info("provisioned webhook", "channel_id", channelID)
	return url, true, nil
}

// reusable looks for a webhook this bot already owns in the channel. Listing
// needs a broader permission than creating, so a failure here just means we
// create a fresh one.
func (p *Provisioner) reusable(ctx context.Context, channelID string) string {
	hooks, err := p.client.ListChannelWebhooks(ctx, channelID)
	if err != nil {
		slog.Debug("webhook listing failed", "channel_id", channelID, "error", err)
		return ""
	}
	for _, h := range hooks {
		if h.OwnerID == p.botID && h.URL != "" {
			return h.URL
		}
	}
	return ""
}

// Discard clears a connection's recorded webhook URL after the platform
// reports it gone. The next message through the channel re-provisions.
func (p *Provisioner) Discard(ctx context.Context, channelID string) error {
	if err := p.conns.SetWebhookURL(ctx, channelID, ""); err != nil {
		return fmt.Errorf("clear webhook url: %w", err)
	}
	slog.Info("discarded dead webhook", "channel_id", channelID)
	return nil
}
