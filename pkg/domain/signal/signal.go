// Package signal defines the Signal bounded context.
// A Signal is the aggregate root for a relayed message from the source
// channel; Updates are the threaded replies that belong to exactly one Signal.
package signal

import (
	"fmt"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
)

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// ThreadID is the natural key of a Signal: the source chat and message that
// started the thread. Replies are correlated to threads by this key.
type ThreadID struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// String implements fmt.Stringer.
func (t ThreadID) String() string {
	return fmt.Sprintf("%d:%d", t.ChatID, t.MessageID)
}

// Kind distinguishes root records from child records. It is part of the
// idempotency key: the same source message may not be admitted twice per kind.
type Kind string

const (
	KindSignal Kind = "signal"
	KindUpdate Kind = "update"
)

func (k Kind) String() string { return string(k) }

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPosted     Status = "POSTED"
	StatusError      Status = "ERROR"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusPosted || s == StatusError
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle
// step: PENDING → PROCESSING → POSTED | ERROR, with PENDING → ERROR allowed
// for records that fail before processing starts.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusError
	case StatusProcessing:
		return next == StatusPosted || next == StatusError
	default:
		return false
	}
}

// Destination identifies a published message on the destination channel.
type Destination struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// IsZero returns true when nothing has been published yet.
func (d Destination) IsZero() bool { return d.MessageID == "" }

// StatusChange is the single atomic field-set applied to a record by
// Store.UpdateStatus.
type StatusChange struct {
	Status        Status
	Destination   *Destination
	Translated    string
	FailureReason string
}

// ---------------------------------------------------------------------------
// Signal aggregate root
// ---------------------------------------------------------------------------

// Signal is the root record: a new message carrying the signal marker.
type Signal struct {
	domain.AggregateRoot

	// Identity
	SourceChatID    int64  `json:"source_chat_id"`
	SourceMessageID int64  `json:"source_message_id"`
	SenderID        *int64 `json:"sender_id,omitempty"`

	// Content
	Content    string `json:"content"`
	Translated string `json:"translated,omitempty"`

	// Lifecycle
	Status        Status      `json:"status"`
	Destination   Destination `json:"destination"`
	FailureReason string      `json:"failure_reason,omitempty"`

	CreatedAt domain.Timestamp `json:"created_at"`
	UpdatedAt domain.Timestamp `json:"updated_at"`
}

// NewSignal creates a PENDING Signal with a generated ID.
func NewSignal(chatID, messageID int64, senderID *int64, content string) *Signal {
	now := domain.Now()
	s := &Signal{
		SourceChatID:    chatID,
		SourceMessageID: messageID,
		SenderID:        senderID,
		Content:         content,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.SetID(domain.NewID())
	s.RecordEvent(domain.NewEvent(domain.EventSignalReceived, s.ID(), map[string]interface{}{
		"thread": s.Thread().String(),
	}))
	return s
}

// Thread returns the thread identity of the Signal.
func (s *Signal) Thread() ThreadID {
	return ThreadID{ChatID: s.SourceChatID, MessageID: s.SourceMessageID}
}

// IsPublished reports whether the Signal has a destination identifier and
// can therefore accept threaded replies.
func (s *Signal) IsPublished() bool {
	return !s.Destination.IsZero()
}

// SetTranslated stores the enriched content that will be published.
func (s *Signal) SetTranslated(text string) { s.Translated = text }

// MarkProcessing transitions PENDING → PROCESSING.
func (s *Signal) MarkProcessing() (StatusChange, error) {
	if err := s.transition(StatusProcessing); err != nil {
		return StatusChange{}, err
	}
	return StatusChange{Status: StatusProcessing}, nil
}

// MarkPosted records the destination and transitions to POSTED.
func (s *Signal) MarkPosted(dest Destination) (StatusChange, error) {
	if err := s.transition(StatusPosted); err != nil {
		return StatusChange{}, err
	}
	s.Destination = dest
	s.RecordEvent(domain.NewEvent(domain.EventSignalPosted, s.ID(), map[string]interface{}{
		"thread":          s.Thread().String(),
		"dest_chat_id":    dest.ChatID,
		"dest_message_id": dest.MessageID,
	}))
	return StatusChange{Status: StatusPosted, Destination: &dest, Translated: s.Translated}, nil
}

// MarkError transitions to ERROR with a stored failure reason.
func (s *Signal) MarkError(reason string) (StatusChange, error) {
	if err := s.transition(StatusError); err != nil {
		return StatusChange{}, err
	}
	s.FailureReason = reason
	s.RecordEvent(domain.NewEvent(domain.EventSignalFailed, s.ID(), map[string]interface{}{
		"thread": s.Thread().String(),
		"reason": reason,
	}))
	return StatusChange{Status: StatusError, FailureReason: reason}, nil
}

func (s *Signal) transition(next Status) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = domain.Now()
	return nil
}

// ---------------------------------------------------------------------------
// Update (child record)
// ---------------------------------------------------------------------------

// Update is a reply belonging to exactly one Signal.
type Update struct {
	domain.AggregateRoot

	// Identity
	SourceChatID    int64  `json:"source_chat_id"`
	SourceMessageID int64  `json:"source_message_id"`
	SenderID        *int64 `json:"sender_id,omitempty"`

	// Parent reference
	ParentID        domain.EntityID `json:"parent_id"`
	ParentMessageID int64           `json:"parent_message_id"`

	// Content
	Content    string `json:"content"`
	Translated string `json:"translated,omitempty"`

	// Lifecycle
	Status        Status      `json:"status"`
	Destination   Destination `json:"destination"`
	FailureReason string      `json:"failure_reason,omitempty"`

	CreatedAt domain.Timestamp `json:"created_at"`
	UpdatedAt domain.Timestamp `json:"updated_at"`
}

// NewUpdate creates a PENDING Update for the given parent Signal.
func NewUpdate(parent *Signal, messageID int64, senderID *int64, content string) *Update {
	now := domain.Now()
	u := &Update{
		SourceChatID:    parent.SourceChatID,
		SourceMessageID: messageID,
		SenderID:        senderID,
		ParentID:        parent.ID(),
		ParentMessageID: parent.SourceMessageID,
		Content:         content,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	u.SetID(domain.NewID())
	u.RecordEvent(domain.NewEvent(domain.EventReplyReceived, u.ID(), map[string]interface{}{
		"thread":    u.Thread().String(),
		"parent_id": parent.ID().String(),
	}))
	return u
}

// Thread returns the thread identity of the parent Signal.
func (u *Update) Thread() ThreadID {
	return ThreadID{ChatID: u.SourceChatID, MessageID: u.ParentMessageID}
}

// SetTranslated stores the enriched content that will be published.
func (u *Update) SetTranslated(text string) { u.Translated = text }

// MarkProcessing transitions PENDING → PROCESSING.
func (u *Update) MarkProcessing() (StatusChange, error) {
	if err := u.transition(StatusProcessing); err != nil {
		return StatusChange{}, err
	}
	return StatusChange{Status: StatusProcessing}, nil
}

// MarkPosted records the destination and transitions to POSTED.
func (u *Update) MarkPosted(dest Destination) (StatusChange, error) {
	if err := u.transition(StatusPosted); err != nil {
		return StatusChange{}, err
	}
	u.Destination = dest
	u.RecordEvent(domain.NewEvent(domain.EventReplyPosted, u.ID(), map[string]interface{}{
		"thread":          u.Thread().String(),
		"dest_message_id": dest.MessageID,
	}))
	return StatusChange{Status: StatusPosted, Destination: &dest, Translated: u.Translated}, nil
}

// MarkError transitions to ERROR with a stored failure reason.
func (u *Update) MarkError(reason string) (StatusChange, error) {
	if err := u.transition(StatusError); err != nil {
		return StatusChange{}, err
	}
	u.FailureReason = reason
	u.RecordEvent(domain.NewEvent(domain.EventReplyFailed, u.ID(), map[string]interface{}{
		"thread": u.Thread().String(),
		"reason": reason,
	}))
	return StatusChange{Status: StatusError, FailureReason: reason}, nil
}

func (u *Update) transition(next Status) error {
	if !u.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, u.Status, next)
	}
	u.Status = next
	u.UpdatedAt = domain.Now()
	return nil
}
