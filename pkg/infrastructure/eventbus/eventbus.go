// Package eventbus provides the in-process implementation of the domain event bus.
// This is the infrastructure adapter for domain.EventBus.
package eventbus

import (
	"sync"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// InProcessEventBus is a synchronous in-process event bus.
// It dispatches events to registered handlers immediately on Publish(), on
// the publishing goroutine. Pipelines publish from many goroutines at once,
// so handlers must be safe for concurrent use and must not block.
type InProcessEventBus struct {
	handlers    map[domain.EventType][]domain.EventHandler
	allHandlers []domain.EventHandler
	mu          sync.RWMutex
	closed      bool
}

// New creates a new in-process event bus.
func New() *InProcessEventBus {
	return &InProcessEventBus{
		handlers: make(map[domain.EventType][]domain.EventHandler),
	}
}

// Publish dispatches an event to all matching handlers.
// Handlers for the specific event type are called first, then global handlers.
// A panicking handler is logged and skipped; it never reaches the publisher.
func (b *InProcessEventBus) Publish(event domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	typed := b.handlers[event.EventType()]
	all := b.allHandlers
	b.mu.RUnlock()

	for _, handler := range typed {
		dispatch(handler, event)
	}
	for _, handler := range all {
		dispatch(handler, event)
	}
}

func dispatch(handler domain.EventHandler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("eventbus", "Event handler panicked", map[string]interface{}{
				"event": string(event.EventType()),
				"panic": r,
			})
		}
	}()
	handler(event)
}

// Subscribe registers a handler for a specific event type.
func (b *InProcessEventBus) Subscribe(eventType domain.EventType, handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *InProcessEventBus) SubscribeAll(handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allHandlers = append(b.allHandlers, handler)
}

// Close marks the bus as closed. No more events will be dispatched.
func (b *InProcessEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
}

// PublishAll dispatches the events pulled from an aggregate, in order.
func (b *InProcessEventBus) PublishAll(events []domain.Event) {
	for _, event := range events {
		b.Publish(event)
	}
}

// HandlerCount returns the total number of registered handlers (for diagnostics).
func (b *InProcessEventBus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.allHandlers)
	for _, handlers := range b.handlers {
		count += len(handlers)
	}
	return count
}

// Verify interface compliance at compile time.
var _ domain.EventBus = (*InProcessEventBus)(nil)
