// Package relay defines the value types that flow between the transport
// adapter and the processing pipeline. Snapshots are taken once at ingress;
// downstream code never touches live platform objects.
package relay

import "time"

// MessageSnapshot is an immutable copy of an inbound chat message.
type MessageSnapshot struct {
	MessageID    string
	ChannelID    string
	ServerID     string
	AuthorID     string
	AuthorName   string // display name resolved at ingress
	AuthorAvatar string
	AuthorBot    bool
	Content      string
	Attachments  []Attachment
	ReplyToID    string // referenced message id when the message is a reply
	Timestamp    time.Time
}

// HasPayload reports whether there is anything worth relaying.
func (m MessageSnapshot) HasPayload() bool {
	return m.Content != "" || len(m.Attachments) > 0
}

// FirstAttachment returns the first attachment or a zero value.
func (m MessageSnapshot) FirstAttachment() Attachment {
	if len(m.Attachments) == 0 {
		return Attachment{}
	}
	return m.Attachments[0]
}

// Attachment is a snapshot of one uploaded file reference.
type Attachment struct {
	URL         string
	ProxyURL    string
	Filename    string
	ContentType string
}

// IsImage reports whether the attachment looks like an image upload.
func (a Attachment) IsImage() bool {
	switch a.ContentType {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}

// EditSnapshot captures a message edit event.
type EditSnapshot struct {
	MessageID  string
	ChannelID  string
	ServerID   string
	AuthorID   string
	NewContent string
	EditedAt   time.Time
}

// DeleteSnapshot captures a message delete event.
type DeleteSnapshot struct {
	MessageID string
	ChannelID string
}
