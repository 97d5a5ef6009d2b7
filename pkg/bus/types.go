package bus

import (
	"time"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
)

// InboundEvent is a message delivered by a source transport. The pipeline
// only reads the six source fields; Channel and Metadata are for diagnostics.
type InboundEvent struct {
	Channel   domain.ChannelType `json:"channel"`
	ChatID    int64              `json:"chat_id"`
	MessageID int64              `json:"message_id"`
	SenderID  *int64             `json:"sender_id,omitempty"`
	Content   string             `json:"content"`
	ReplyTo   *int64             `json:"reply_to,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
	Metadata  domain.Metadata    `json:"metadata,omitempty"`
}

// IsReply reports whether the event declares a reply-to reference.
func (e InboundEvent) IsReply() bool { return e.ReplyTo != nil }

// OutboundMessage is a copy of content published to the destination channel,
// fanned out to taps for observability.
type OutboundMessage struct {
	Channel   domain.ChannelType `json:"channel"`
	ChatID    string             `json:"chat_id"`
	MessageID string             `json:"message_id"`
	ReplyTo   string             `json:"reply_to,omitempty"`
	Content   string             `json:"content"`
}

// SystemEvent is a typed event flowing through the bus for observability.
// Used for pipeline outcomes, task failures and lifecycle events.
type SystemEvent struct {
	Type   string      `json:"type"`   // e.g. "signal.posted", "task.failed"
	Source string      `json:"source"` // e.g. "relay", "supervisor"
	Data   interface{} `json:"data"`
}

// Int64 returns a pointer to v. Used to fill nullable event fields.
func Int64(v int64) *int64 { return &v }
