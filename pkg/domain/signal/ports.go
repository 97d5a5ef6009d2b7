package signal

import (
	"context"
	"time"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
)

// ---------------------------------------------------------------------------
// Store: persistence port (the Record Store)
// ---------------------------------------------------------------------------

// Store is the durable source of truth for Signals and Updates.
//
// Uniqueness of (source chat, source message) per Kind is enforced by the
// store itself; the insert is the linearization point for idempotency.
// Every mutation is a single atomic write keyed by the record's ID.
type Store interface {
	// InsertSignal persists a new Signal. Returns ErrDuplicateKey if a Signal
	// for the same source chat and message already exists.
	InsertSignal(ctx context.Context, s *Signal) (domain.EntityID, error)
	// InsertUpdate persists a new Update. Returns ErrDuplicateKey on a
	// duplicate source chat and message, ErrNotFound if the parent is missing.
	InsertUpdate(ctx context.Context, u *Update) (domain.EntityID, error)
	// FindSignalBySource looks a Signal up by its thread identity.
	FindSignalBySource(ctx context.Context, chatID, messageID int64) (*Signal, error)
	// Exists reports whether a record of the given kind exists for the source key.
	Exists(ctx context.Context, kind Kind, chatID, messageID int64) (bool, error)
	// UpdateStatus atomically applies a status change to a single record.
	UpdateStatus(ctx context.Context, kind Kind, id domain.EntityID, change StatusChange) error
	// MarkStale moves PENDING and PROCESSING records created before olderThan
	// to ERROR with the given reason. Returns the number of records changed.
	MarkStale(ctx context.Context, olderThan time.Time, reason string) (int64, error)
	// Ping checks the store connection.
	Ping(ctx context.Context) error
	// Close releases the store's resources.
	Close() error
}

// ---------------------------------------------------------------------------
// Publisher: outbound port to the destination channel
// ---------------------------------------------------------------------------

// Publisher posts content to the destination channel. An empty replyTo posts
// a new top-level message; otherwise the message is threaded under replyTo.
// Transport failures are returned wrapped in ErrPublishFailure.
type Publisher interface {
	Publish(ctx context.Context, content string, replyTo string) (Destination, error)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, content string, replyTo string) (Destination, error)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, content string, replyTo string) (Destination, error) {
	return f(ctx, content, replyTo)
}
