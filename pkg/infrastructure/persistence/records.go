// Package persistence provides the Record Store implementations: a
// file-backed JSON store (or memory-only when no directory is given), SQLite
// and PostgreSQL. All of them enforce uniqueness of (source chat, source
// message) per record kind at write time.
package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
	"github.com/liker0704/telegram-signals-parisng/pkg/metrics"
)

// record is the storage shape shared by Signals and Updates. Aggregates keep
// their ID unexported, so stores persist this flat form instead.
type record struct {
	ID              domain.EntityID `json:"id"`
	Kind            signal.Kind     `json:"kind"`
	SourceChatID    int64           `json:"source_chat_id"`
	SourceMessageID int64           `json:"source_message_id"`
	SenderID        *int64          `json:"sender_id,omitempty"`
	ParentID        domain.EntityID `json:"parent_id,omitempty"`
	ParentMessageID int64           `json:"parent_message_id,omitempty"`
	Content         string          `json:"content"`
	Translated      string          `json:"translated,omitempty"`
	Status          signal.Status   `json:"status"`
	DestChatID      string          `json:"dest_chat_id,omitempty"`
	DestMessageID   string          `json:"dest_message_id,omitempty"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (r *record) thread() signal.ThreadID {
	return signal.ThreadID{ChatID: r.SourceChatID, MessageID: r.SourceMessageID}
}

func signalRecord(s *signal.Signal) record {
	return record{
		ID:              s.ID(),
		Kind:            signal.KindSignal,
		SourceChatID:    s.SourceChatID,
		SourceMessageID: s.SourceMessageID,
		SenderID:        s.SenderID,
		Content:         s.Content,
		Translated:      s.Translated,
		Status:          s.Status,
		DestChatID:      s.Destination.ChatID,
		DestMessageID:   s.Destination.MessageID,
		FailureReason:   s.FailureReason,
		CreatedAt:       s.CreatedAt.Time,
		UpdatedAt:       s.UpdatedAt.Time,
	}
}

func updateRecord(u *signal.Update) record {
	return record{
		ID:              u.ID(),
		Kind:            signal.KindUpdate,
		SourceChatID:    u.SourceChatID,
		SourceMessageID: u.SourceMessageID,
		SenderID:        u.SenderID,
		ParentID:        u.ParentID,
		ParentMessageID: u.ParentMessageID,
		Content:         u.Content,
		Translated:      u.Translated,
		Status:          u.Status,
		DestChatID:      u.Destination.ChatID,
		DestMessageID:   u.Destination.MessageID,
		FailureReason:   u.FailureReason,
		CreatedAt:       u.CreatedAt.Time,
		UpdatedAt:       u.UpdatedAt.Time,
	}
}

func (r *record) toSignal() *signal.Signal {
	s := &signal.Signal{
		SourceChatID:    r.SourceChatID,
		SourceMessageID: r.SourceMessageID,
		SenderID:        r.SenderID,
		Content:         r.Content,
		Translated:      r.Translated,
		Status:          r.Status,
		Destination:     signal.Destination{ChatID: r.DestChatID, MessageID: r.DestMessageID},
		FailureReason:   r.FailureReason,
		CreatedAt:       domain.TimestampFrom(r.CreatedAt),
		UpdatedAt:       domain.TimestampFrom(r.UpdatedAt),
	}
	s.SetID(r.ID)
	return s
}

// apply copies a status change onto the record.
func (r *record) apply(change signal.StatusChange, now time.Time) {
	r.Status = change.Status
	if change.Destination != nil {
		r.DestChatID = change.Destination.ChatID
		r.DestMessageID = change.Destination.MessageID
	}
	if change.Translated != "" {
		r.Translated = change.Translated
	}
	if change.FailureReason != "" {
		r.FailureReason = change.FailureReason
	}
	r.UpdatedAt = now
}

// isStale reports whether the record is stuck in a non-terminal state.
func (r *record) isStale(olderThan time.Time) bool {
	return !r.Status.Terminal() && r.CreatedAt.Before(olderThan)
}

func validKind(kind signal.Kind) error {
	switch kind {
	case signal.KindSignal, signal.KindUpdate:
		return nil
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
}

// table returns the SQL table for kind. Callers validate kind first.
func table(kind signal.Kind) string {
	if kind == signal.KindUpdate {
		return "updates"
	}
	return "signals"
}

// observe records store latency for op. Use as defer observe("op")().
func observe(op string) func() {
	start := time.Now()
	return func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// ---------------------------------------------------------------------------
// Store factory
// ---------------------------------------------------------------------------

// Config selects and configures a store backend.
type Config struct {
	Driver string // memory, file, sqlite, postgres
	Path   string // directory for file, database file for sqlite
	URL    string // postgres connection string
}

// Open creates the configured store and applies its schema.
func Open(ctx context.Context, cfg Config) (signal.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewFileStore("")
	case "file", "json":
		return NewFileStore(cfg.Path)
	case "sqlite", "sqlite3":
		return NewSQLiteStore(ctx, cfg.Path)
	case "postgres", "postgresql":
		return NewPostgresStore(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
