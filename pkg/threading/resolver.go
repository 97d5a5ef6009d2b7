// Package threading maps an inbound reply to the Signal that started its
// thread and checks that the thread can be extended on the destination side.
package threading

import (
	"context"
	"errors"
	"fmt"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

// ThreadingError is a typed error for reply resolution outcomes.
type ThreadingError string

func (e ThreadingError) Error() string { return string(e) }

const (
	// ErrNotAReply means the event has no reply-to reference.
	ErrNotAReply ThreadingError = "event is not a reply"
	// ErrOrphanReply means no Signal exists for the reply target.
	ErrOrphanReply ThreadingError = "reply target is unknown"
	// ErrParentNotReady means the Signal exists but has not been published yet.
	ErrParentNotReady ThreadingError = "reply target is not published yet"
)

// IsDroppable reports whether err is a resolution outcome that drops the
// event silently, as opposed to a store failure.
func IsDroppable(err error) bool {
	return errors.Is(err, ErrNotAReply) ||
		errors.Is(err, ErrOrphanReply) ||
		errors.Is(err, ErrParentNotReady)
}

// DropReason maps a droppable error to its drop reason.
func DropReason(err error) domain.DropReason {
	switch {
	case errors.Is(err, ErrNotAReply):
		return domain.DropNotAReply
	case errors.Is(err, ErrOrphanReply):
		return domain.DropOrphanReply
	case errors.Is(err, ErrParentNotReady):
		return domain.DropParentNotReady
	default:
		return ""
	}
}

// Finder is the slice of the record store the resolver reads.
type Finder interface {
	FindSignalBySource(ctx context.Context, chatID, messageID int64) (*signal.Signal, error)
}

// Resolver is read-only and safe to retry.
type Resolver struct {
	store Finder
}

// New creates a resolver over store.
func New(store Finder) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the published Signal that replyTo refers to in chatID.
func (r *Resolver) Resolve(ctx context.Context, chatID int64, replyTo *int64) (*signal.Signal, error) {
	if replyTo == nil {
		return nil, ErrNotAReply
	}

	root, err := r.store.FindSignalBySource(ctx, chatID, *replyTo)
	if err != nil {
		if signal.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %d:%d", ErrOrphanReply, chatID, *replyTo)
		}
		return nil, fmt.Errorf("resolve reply target %d:%d: %w", chatID, *replyTo, err)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: %d:%d", ErrOrphanReply, chatID, *replyTo)
	}

	if !root.IsPublished() {
		return nil, fmt.Errorf("%w: %s is %s", ErrParentNotReady, root.Thread(), root.Status)
	}
	return root, nil
}
