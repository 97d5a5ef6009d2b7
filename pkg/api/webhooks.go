// Webhook intake: lets programs that are not chat transports feed events
// into the relay.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// WebhookChannel is the channel name webhook events are reported under.
const WebhookChannel = "webhook"

const maxWebhookBody = 64 << 10

// WebhookEvent is the request body of POST /api/webhook/{source}:
//
//	{
//	  "chat_id": -1001234,
//	  "message_id": 100,
//	  "sender_id": 42,
//	  "content": "#signal BTC long",
//	  "reply_to": 99
//	}
//
// sender_id, reply_to and timestamp are optional.
type WebhookEvent struct {
	ChatID    int64             `json:"chat_id"`
	MessageID int64             `json:"message_id"`
	SenderID  *int64            `json:"sender_id,omitempty"`
	Content   string            `json:"content"`
	ReplyTo   *int64            `json:"reply_to,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (e WebhookEvent) validate() error {
	switch {
	case e.ChatID == 0:
		return errors.New("chat_id is required")
	case e.MessageID == 0:
		return errors.New("message_id is required")
	case strings.TrimSpace(e.Content) == "":
		return errors.New("content is required")
	}
	return nil
}

// toInbound converts the request into an intake event tagged with source.
func (e WebhookEvent) toInbound(source string) bus.InboundEvent {
	ts := time.Now().UTC()
	if e.Timestamp != nil {
		ts = e.Timestamp.UTC()
	}
	md := domain.Metadata{}
	for k, v := range e.Metadata {
		md.Set(k, v)
	}
	md.Set("source", source)
	return bus.InboundEvent{
		Channel:   domain.ChannelWebhook,
		ChatID:    e.ChatID,
		MessageID: e.MessageID,
		SenderID:  e.SenderID,
		Content:   e.Content,
		ReplyTo:   e.ReplyTo,
		Timestamp: ts,
		Metadata:  md,
	}
}

// POST /api/webhook/{source}: enqueue an event for the intake loop.
// Acceptance means queued, not relayed; the pipeline may still drop it.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "webhook source name required"})
		return
	}
	if s.deps.Bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "intake not available"})
		return
	}

	var req WebhookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ev := req.toInbound(source)
	if err := channels.Deliver(r.Context(), s.deps.Bus, s.deps.Reporter, WebhookChannel, ev); err != nil {
		logger.WarnCF("webhook", "Event not queued", map[string]interface{}{
			"source": source,
			"error":  err.Error(),
		})
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "intake closed"})
		return
	}

	logger.InfoCF("webhook", "Event queued", map[string]interface{}{
		"source":     source,
		"chat_id":    ev.ChatID,
		"message_id": ev.MessageID,
		"reply":      ev.IsReply(),
	})
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":    fmt.Sprintf("webhook from %s accepted", source),
		"chat_id":    ev.ChatID,
		"message_id": ev.MessageID,
	})
}
