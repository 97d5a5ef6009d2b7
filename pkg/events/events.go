// Package events defines the typed event contracts seen by observers of the
// relay: the WebSocket feed and the system tap on the message bus. Every
// event leaving the process uses the Event envelope.
package events

import (
	"strconv"
	"time"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
)

// --- Event Envelope ---

// Event is the universal envelope for all observable events.
type Event struct {
	// Type identifies the event (e.g., "signal.posted", "message.inbound")
	Type string `json:"type"`

	// Source identifies who emitted the event
	Source string `json:"source"`

	// Timestamp is when the event was emitted
	Timestamp time.Time `json:"timestamp"`

	// Data is the typed payload
	Data interface{} `json:"data"`
}

// New creates a timestamped event.
func New(eventType, source string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// --- Event Type Constants ---

const (
	// Message flow events, built from bus taps
	MessageInbound  = "message.inbound"
	MessageOutbound = "message.outbound"

	// System events
	SystemStarted  = "system.started"
	SystemStopping = "system.stopping"
	SystemHealth   = "system.health"
)

// PreviewLength bounds message content carried by observability events.
const PreviewLength = 200

// --- Typed Payloads ---

// MessageEventData is the payload for message flow events.
type MessageEventData struct {
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id,omitempty"`
	From      string    `json:"from,omitempty"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	Preview   string    `json:"preview"` // truncated content
	Timestamp time.Time `json:"timestamp"`
}

// DomainEventData wraps a domain event's payload with its aggregate.
type DomainEventData struct {
	AggregateID string      `json:"aggregate_id,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Payload     interface{} `json:"payload,omitempty"`
}

// SystemEventData is the payload for system health events.
type SystemEventData struct {
	Uptime    int64  `json:"uptime_seconds,omitempty"`
	LiveTasks int    `json:"live_tasks"`
	Pending   int    `json:"pending_inbound"`
	Message   string `json:"message,omitempty"`
}

// --- Conversions ---

// FromDomain converts a domain event into an envelope.
func FromDomain(e domain.Event) Event {
	return Event{
		Type:      string(e.EventType()),
		Source:    "domain",
		Timestamp: e.OccurredAt(),
		Data: DomainEventData{
			AggregateID: e.AggregateID().String(),
			OccurredAt:  e.OccurredAt(),
			Payload:     e.Payload(),
		},
	}
}

// FromSystem converts a bus system event into an envelope.
func FromSystem(e bus.SystemEvent) Event {
	return New(e.Type, e.Source, e.Data)
}

// FromInbound summarizes an inbound event.
func FromInbound(ev bus.InboundEvent) Event {
	data := MessageEventData{
		Channel:   string(ev.Channel),
		ChatID:    itoa(ev.ChatID),
		MessageID: itoa(ev.MessageID),
		Preview:   Truncate(ev.Content, PreviewLength),
		Timestamp: ev.Timestamp,
	}
	if ev.SenderID != nil {
		data.From = itoa(*ev.SenderID)
	}
	if ev.ReplyTo != nil {
		data.ReplyTo = itoa(*ev.ReplyTo)
	}
	return New(MessageInbound, string(ev.Channel), data)
}

// FromOutbound summarizes a published message.
func FromOutbound(msg bus.OutboundMessage) Event {
	return New(MessageOutbound, string(msg.Channel), MessageEventData{
		Channel:   string(msg.Channel),
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		ReplyTo:   msg.ReplyTo,
		Preview:   Truncate(msg.Content, PreviewLength),
		Timestamp: time.Now().UTC(),
	})
}

// Forward republishes every domain event on the message bus system tap.
func Forward(eb domain.EventBus, mb *bus.MessageBus) {
	eb.SubscribeAll(func(e domain.Event) {
		env := FromDomain(e)
		mb.PublishSystem(bus.SystemEvent{Type: env.Type, Source: env.Source, Data: env.Data})
	})
}

// Truncate shortens s to at most maxLen runes.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "…"
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
