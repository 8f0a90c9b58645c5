package model

import "time"

// Message is the canonical persisted message shape shared by the API,
// the messaging consumer and the client SDK.
type Message struct {
	ID            int64             `json:"id"`
	Text          string            `json:"text"`
	Sender        MessageSender     `json:"sender"`
	Timestamp     time.Time         `json:"timestamp"`
	Reactions     []MessageReaction `json:"reactions,omitempty"`
	ReplyTo       *ReplyRef         `json:"reply_to,omitempty"`
	Attachment    *Attachment       `json:"attachment,omitempty"`
	IsEdited      bool              `json:"is_edited,omitempty"`
	EditedAt      *time.Time        `json:"edited_at,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// MessageSender identifies who sent a message. IsCurrentUser is derived
// relative to the viewing session and never persisted.
type MessageSender struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Role          string `json:"role,omitempty"`
	IsCurrentUser bool   `json:"is_current_user,omitempty"`
}

// MessageReaction is the aggregated view of one emoji on one message.
// Count and HasReacted are derived from Users, never mutated directly.
type MessageReaction struct {
	Emoji      string   `json:"emoji"`
	Count      int      `json:"count"`
	Users      []string `json:"users"`
	HasReacted bool     `json:"has_reacted,omitempty"`
}

// ReplyRef points at the message being replied to.
type ReplyRef struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	SenderName string `json:"sender_name"`
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// TypingUser is an entry in a topic's ephemeral typing set. Timestamp is
// the last-seen instant; entries older than the configured TTL are expired.
type TypingUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}
