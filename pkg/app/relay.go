package app

import (
	"context"
	"fmt"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
	"github.com/liker0704/telegram-signals-parisng/pkg/metrics"
	"github.com/liker0704/telegram-signals-parisng/pkg/router"
	"github.com/liker0704/telegram-signals-parisng/pkg/supervisor"
)

// ---------------------------------------------------------------------------
// Intake loop
// ---------------------------------------------------------------------------

// Intake is the consuming side of the message bus.
type Intake interface {
	ConsumeInbound(ctx context.Context) (bus.InboundEvent, bool)
}

// Dispatcher runs units of work independently of the intake loop.
type Dispatcher interface {
	Dispatch(name string, fn supervisor.Work) (*supervisor.Handle, error)
}

// Gate decides whether a source chat is accepted. ChannelService implements it.
type Gate interface {
	Allowed(channel string, chatID int64) bool
}

// Relay is the single intake loop: it consumes events serially, classifies
// each exactly once and hands NewRoot and Reply events to the dispatcher.
// It never waits for a pipeline to finish.
type Relay struct {
	intake     Intake
	router     *router.Router
	service    *RelayService
	dispatcher Dispatcher
	gate       Gate
}

// NewRelay creates the intake loop. gate may be nil.
func NewRelay(intake Intake, r *router.Router, service *RelayService, dispatcher Dispatcher, gate Gate) *Relay {
	return &Relay{
		intake:     intake,
		router:     r,
		service:    service,
		dispatcher: dispatcher,
		gate:       gate,
	}
}

// Run consumes events until ctx is cancelled or the bus is closed and drained.
func (r *Relay) Run(ctx context.Context) error {
	logger.InfoC("relay", "Intake loop started")
	defer logger.InfoC("relay", "Intake loop stopped")

	for {
		ev, ok := r.intake.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		r.Accept(ev)
	}
}

// Accept classifies one event and dispatches its pipeline.
func (r *Relay) Accept(ev bus.InboundEvent) {
	if r.gate != nil && !r.gate.Allowed(string(ev.Channel), ev.ChatID) {
		r.service.Drop(ev, kindOf(ev), domain.DropChatNotAllowed)
		return
	}

	route := r.router.Route(ev)
	metrics.EventsRouted.WithLabelValues(route.Action.String()).Inc()

	var work supervisor.Work
	switch route.Action {
	case router.ActionNewRoot:
		work = func(ctx context.Context) error { return r.service.HandleSignal(ctx, route.Event) }
	case router.ActionReply:
		work = func(ctx context.Context) error { return r.service.HandleReply(ctx, route.Event) }
	default:
		logger.DebugCF("relay", "Event ignored", map[string]interface{}{
			"channel":    string(ev.Channel),
			"chat_id":    ev.ChatID,
			"message_id": ev.MessageID,
		})
		return
	}

	name := fmt.Sprintf("%s %d:%d", route.Action, ev.ChatID, ev.MessageID)
	if _, err := r.dispatcher.Dispatch(name, work); err != nil {
		logger.WarnCF("relay", "Dispatch refused", map[string]interface{}{
			"task":  name,
			"error": err.Error(),
		})
	}
}

func kindOf(ev bus.InboundEvent) signal.Kind {
	if ev.IsReply() {
		return signal.KindUpdate
	}
	return signal.KindSignal
}
