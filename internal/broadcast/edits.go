package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/transport"
)

// PropagateEdit rewrites every mirrored copy of an edited source message.
// The caller re-runs admission on the new text before calling. A record
// that aged out is a silent no-op.
func (b *Broadcaster) PropagateEdit(ctx context.Context, messageID, newText string) error {
	rec, err := b.records.FindByAny(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	// Mirrored copies are webhook-owned and cannot be edited by users, so
	// only the source copy can originate an edit.
	if rec.SourceMessageID != messageID {
		return nil
	}

	byChannel, err := b.hubConnections(ctx, rec.HubID)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for channelID, msgID := range rec.Broadcasts {
		conn, ok := byChannel[channelID]
		if !ok || conn.WebhookURL == "" {
			continue
		}
		g.Go(func() error {
			ectx, cancel := context.WithTimeout(ctx, b.cfg.FanoutTimeout)
			defer cancel()
			payload := editPayload(rec, conn, newText)
			if err := b.client.EditWebhookMessage(ectx, conn.WebhookURL, msgID, payload); err != nil {
				slog.Warn("edit propagation failed",
					"channel_id", channelID, "message_id", msgID, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	return nil
}

// PropagateDelete removes every other mirrored copy once any copy of a
// relayed message is deleted. The source copy is a user message and is not
// webhook-deletable; deleting it is the platform's (or a moderator's) job.
func (b *Broadcaster) PropagateDelete(ctx context.Context, messageID string) error {
	rec, err := b.records.FindByAny(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	byChannel, err := b.hubConnections(ctx, rec.HubID)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for channelID, msgID := range rec.Broadcasts {
		if msgID == messageID {
			continue // the copy whose deletion triggered the cascade
		}
		conn, ok := byChannel[channelID]
		if !ok || conn.WebhookURL == "" {
			continue
		}
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, b.cfg.FanoutTimeout)
			defer cancel()
			if err := b.client.DeleteWebhookMessage(dctx, conn.WebhookURL, msgID); err != nil {
				slog.Warn("delete propagation failed",
					"channel_id", channelID, "message_id", msgID, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	return nil
}

func (b *Broadcaster) hubConnections(ctx context.Context, hubID string) (map[string]*store.Connection, error) {
	conns, err := b.conns.FindByHub(ctx, hubID)
	if err != nil {
		return nil, fmt.Errorf("resolve hub connections: %w", err)
	}
	byChannel := make(map[string]*store.Connection, len(conns))
	for i := range conns {
		byChannel[conns[i].ChannelID] = &conns[i]
	}
	return byChannel, nil
}

func editPayload(rec *Record, conn *store.Connection, newText string) transport.WebhookPayload {
	if conn.Compact {
		content := newText
		if rec.AttachmentURL != "" {
			if content != "" {
				content += "\n"
			}
			content += rec.AttachmentURL
		}
		return transport.WebhookPayload{Content: content}
	}
	return transport.WebhookPayload{Embed: &transport.Embed{
		Description: newText,
		Color:       parseEmbedColor(conn.EmbedColor),
		ImageURL:    rec.AttachmentURL,
	}}
}
