package broadcast

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/interchat-hq/interchat/internal/store"
	"github.com/interchat-hq/interchat/internal/transport"
)

// defaultEmbedColor is used when a connection has no color configured.
const defaultEmbedColor = 0x5865F2

// Message is the value snapshot the broadcaster fans out. It is assembled
// by the processor after admission, so Text already carries any
// replace-action rewrites.
type Message struct {
	SourceMessageID string
	SourceChannelID string
	ServerID        string
	ServerName      string
	HubID           string
	AuthorID        string
	AuthorName      string
	AuthorAvatar    string
	Text            string
	AttachmentURL   string
	ReplyToID       string
}

// replyRef points at the mirrored copy of the message being replied to in
// one specific sibling channel.
type replyRef struct {
	serverID  string
	channelID string
	messageID string
}

func (r replyRef) jumpLink() string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", r.serverID, r.channelID, r.messageID)
}

// renderPayload builds the outbound webhook payload for one sibling.
// Compact connections get plain text; others get an embed in the
// connection's color.
func renderPayload(m Message, conn *store.Connection, reply *replyRef) transport.WebhookPayload {
	p := transport.WebhookPayload{
		Username:  fmt.Sprintf("%s • %s", m.AuthorName, m.ServerName),
		AvatarURL: m.AuthorAvatar,
	}
	if conn.Compact {
		var b strings.Builder
		if reply != nil {
			fmt.Fprintf(&b, "-# ↪ [reply](%s)\n", reply.jumpLink())
		}
		b.WriteString(m.Text)
		if m.AttachmentURL != "" {
			if m.Text != "" {
				b.WriteString("\n")
			}
			b.WriteString(m.AttachmentURL)
		}
		p.Content = b.String()
		return p
	}

	embed := &transport.Embed{
		Description: m.Text,
		Color:       parseEmbedColor(conn.EmbedColor),
		ImageURL:    m.AttachmentURL,
	}
	if reply != nil {
		embed.Fields = append(embed.Fields, transport.EmbedField{
			Name:  "Replying to",
			Value: fmt.Sprintf("[jump to message](%s)", reply.jumpLink()),
		})
	}
	p.Embed = embed
	return p
}

// parseEmbedColor accepts "#RRGGBB" or a bare hex string; anything else
// falls back to the default.
func parseEmbedColor(s string) int {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return defaultEmbedColor
	}
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil || v < 0 || v > 0xFFFFFF {
		return defaultEmbedColor
	}
	return int(v)
}
