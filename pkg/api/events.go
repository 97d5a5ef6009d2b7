// Event bridge: wires the message bus into the WebSocket hub for live
// updates. Every inbound event, published message and system event fans out
// to all connected WebSocket clients via bus tap subscriptions.
package api

import (
	"context"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/events"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// EventBridge connects the message bus to the WebSocket hub.
type EventBridge struct {
	bus *bus.MessageBus
	hub *WSHub
}

// NewEventBridge creates a bridge that forwards bus events to WebSocket clients.
func NewEventBridge(mb *bus.MessageBus, hub *WSHub) *EventBridge {
	return &EventBridge{bus: mb, hub: hub}
}

// Run subscribes to the bus taps and starts one forwarding goroutine per
// tap. The goroutines stop when ctx is cancelled or the bus is closed.
func (eb *EventBridge) Run(ctx context.Context) {
	logger.InfoC("events", "Event bridge started")

	go eb.forward(ctx, "inbound", eb.bus.SubscribeInboundTap("event-bridge"))
	go eb.forward(ctx, "outbound", eb.bus.SubscribeOutboundTap("event-bridge"))
	go eb.forward(ctx, "system", eb.bus.SubscribeSystem("event-bridge"))
}

func (eb *EventBridge) forward(ctx context.Context, name string, tap <-chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			logger.DebugCF("events", "Event bridge stopped", map[string]interface{}{"tap": name})
			return
		case raw, ok := <-tap:
			if !ok {
				return
			}
			if ev, ok := toEvent(raw); ok {
				eb.hub.Broadcast(ev)
			}
		}
	}
}

func toEvent(raw interface{}) (events.Event, bool) {
	switch msg := raw.(type) {
	case bus.InboundEvent:
		return events.FromInbound(msg), true
	case bus.OutboundMessage:
		return events.FromOutbound(msg), true
	case bus.SystemEvent:
		return events.FromSystem(msg), true
	default:
		return events.Event{}, false
	}
}
