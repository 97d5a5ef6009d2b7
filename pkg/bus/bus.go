package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("message bus closed")

// Subscriber is a named tap on a message stream. Multiple subscribers can
// independently consume the same published messages (fan-out).
type Subscriber struct {
	Name string
	ch   chan interface{} // receives copies of published messages
}

// MessageBus carries inbound events from source transports to the single
// intake loop, and fans copies out to observability taps.
type MessageBus struct {
	inbound   chan InboundEvent
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once

	// Fan-out subscribers: every published message is sent to all taps
	inboundSubs  []*Subscriber
	outboundSubs []*Subscriber
	systemSubs   []*Subscriber
}

// NewMessageBus creates a bus whose inbound queue holds up to size events.
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = 100
	}
	return &MessageBus{
		inbound: make(chan InboundEvent, size),
		done:    make(chan struct{}),
	}
}

// --- Fan-out subscriptions ---

// SubscribeInboundTap creates a named subscriber that receives copies of all
// inbound events. The returned channel is buffered; slow consumers drop.
func (mb *MessageBus) SubscribeInboundTap(name string) <-chan interface{} {
	return mb.subscribe(&mb.inboundSubs, name)
}

// SubscribeOutboundTap creates a named subscriber for published messages.
func (mb *MessageBus) SubscribeOutboundTap(name string) <-chan interface{} {
	return mb.subscribe(&mb.outboundSubs, name)
}

// SubscribeSystem creates a named subscriber for system events.
func (mb *MessageBus) SubscribeSystem(name string) <-chan interface{} {
	return mb.subscribe(&mb.systemSubs, name)
}

func (mb *MessageBus) subscribe(subs *[]*Subscriber, name string) <-chan interface{} {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan interface{}, 64)}
	if mb.closed {
		close(sub.ch)
		return sub.ch
	}
	*subs = append(*subs, sub)
	return sub.ch
}

func fanOut(subs []*Subscriber, msg interface{}) {
	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		default: // non-blocking, drop if subscriber is slow
		}
	}
}

// PublishSystem publishes a system event to all system subscribers.
func (mb *MessageBus) PublishSystem(event SystemEvent) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	fanOut(mb.systemSubs, event)
}

// PublishOutbound fans a published message out to outbound taps.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	fanOut(mb.outboundSubs, msg)
}

// --- Primary intake queue ---

// PublishInbound enqueues an event for the intake loop. Unlike the taps, the
// primary queue never drops: it blocks until there is room, the context is
// cancelled, or the bus is closed.
func (mb *MessageBus) PublishInbound(ctx context.Context, ev InboundEvent) error {
	mb.mu.RLock()
	if mb.closed {
		mb.mu.RUnlock()
		return ErrClosed
	}
	fanOut(mb.inboundSubs, ev)
	mb.mu.RUnlock()

	select {
	case mb.inbound <- ev:
		return nil
	case <-mb.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until an event is available. It returns false when
// the context is cancelled or the bus is closed and drained.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case ev := <-mb.inbound:
		return ev, true
	case <-ctx.Done():
		return InboundEvent{}, false
	case <-mb.done:
		// Drain what was accepted before Close.
		select {
		case ev := <-mb.inbound:
			return ev, true
		default:
			return InboundEvent{}, false
		}
	}
}

// Pending returns the number of queued inbound events.
func (mb *MessageBus) Pending() int {
	return len(mb.inbound)
}

// Close stops accepting new events and closes every tap.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		mb.closed = true
		for _, subs := range [][]*Subscriber{mb.inboundSubs, mb.outboundSubs, mb.systemSubs} {
			for _, sub := range subs {
				close(sub.ch)
			}
		}
		mb.mu.Unlock()
		close(mb.done)
	})
}
