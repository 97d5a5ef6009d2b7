// Package idempotency guarantees at-most-once admission of source events.
//
// The store's uniqueness constraint on (source chat, source message) per kind
// is authoritative: Admit treats the insert itself as the linearization point
// and reads a duplicate-key failure as "already processed". AlreadyProcessed
// is a cheap pre-check that lets duplicates skip the pipeline early; it is
// never relied on for correctness.
package idempotency

import (
	"context"
	"fmt"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// Key is the natural identity of a source event.
type Key struct {
	Kind      signal.Kind
	ChatID    int64
	MessageID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%d", k.Kind, k.ChatID, k.MessageID)
}

// Checker is the slice of the record store the guard reads.
type Checker interface {
	Exists(ctx context.Context, kind signal.Kind, chatID, messageID int64) (bool, error)
}

// SeenCache is an optional fast path in front of the store. It may forget
// keys at any time; it must never report a key it was not given.
type SeenCache interface {
	Seen(ctx context.Context, key Key) (bool, error)
	Mark(ctx context.Context, key Key) error
}

// Guard checks and records admission of source events.
type Guard struct {
	store Checker
	seen  SeenCache
}

// New creates a guard over store. seen may be nil.
func New(store Checker, seen SeenCache) *Guard {
	return &Guard{store: store, seen: seen}
}

// AlreadyProcessed reports whether a record for the event already exists.
// Cache failures are logged and fall through to the store.
func (g *Guard) AlreadyProcessed(ctx context.Context, chatID, messageID int64, kind signal.Kind) (bool, error) {
	key := Key{Kind: kind, ChatID: chatID, MessageID: messageID}

	if g.seen != nil {
		hit, err := g.seen.Seen(ctx, key)
		if err != nil {
			logger.WarnCF("idempotency", "Seen cache lookup failed", map[string]interface{}{
				"key":   key.String(),
				"error": err,
			})
		} else if hit {
			return true, nil
		}
	}

	exists, err := g.store.Exists(ctx, kind, chatID, messageID)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	if exists {
		g.mark(ctx, key)
	}
	return exists, nil
}

// Admit runs insert as the authoritative admission step for key. It returns
// true if this call created the record, false if the record already existed.
// Any other insert failure is returned unchanged.
func (g *Guard) Admit(ctx context.Context, key Key, insert func(ctx context.Context) error) (bool, error) {
	if err := insert(ctx); err != nil {
		if signal.IsDuplicate(err) {
			g.mark(ctx, key)
			return false, nil
		}
		return false, err
	}
	g.mark(ctx, key)
	return true, nil
}

func (g *Guard) mark(ctx context.Context, key Key) {
	if g.seen == nil {
		return
	}
	if err := g.seen.Mark(ctx, key); err != nil {
		logger.WarnCF("idempotency", "Seen cache write failed", map[string]interface{}{
			"key":   key.String(),
			"error": err,
		})
	}
}
