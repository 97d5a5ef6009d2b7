package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/channels/templates"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
	"github.com/liker0704/telegram-signals-parisng/pkg/idempotency"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
	"github.com/liker0704/telegram-signals-parisng/pkg/metrics"
	"github.com/liker0704/telegram-signals-parisng/pkg/ownership"
	"github.com/liker0704/telegram-signals-parisng/pkg/threading"
	"github.com/liker0704/telegram-signals-parisng/pkg/translate"
)

// ---------------------------------------------------------------------------
// Relay application service
// ---------------------------------------------------------------------------

// Failure reasons stored on records that end in ERROR outside of a publish.
const (
	ReasonCancelled   = "cancelled"
	ReasonInterrupted = "interrupted"
)

// Owners is the ownership tracker as seen by the pipelines.
type Owners interface {
	RecordOwner(ctx context.Context, thread signal.ThreadID, sender int64) error
	IsAuthorized(ctx context.Context, thread signal.ThreadID, sender *int64) (bool, error)
}

// Taps receives copies of published messages for observability.
// *bus.MessageBus implements it.
type Taps interface {
	PublishOutbound(msg bus.OutboundMessage)
}

// RelayDeps are the collaborators of the relay pipelines.
type RelayDeps struct {
	Store      signal.Store
	Guard      *idempotency.Guard
	Resolver   *threading.Resolver
	Owners     Owners
	Translator translate.Translator // nil means passthrough
	Publisher  signal.Publisher

	// Optional
	EventBus domain.EventBus
	Taps     Taps
	Template *templates.PostTemplate
}

// RelayConfig tunes the pipelines.
type RelayConfig struct {
	Destination      domain.ChannelType
	TranslateTimeout time.Duration
	FinalizeTimeout  time.Duration // bounds status writes after cancellation
}

func (c RelayConfig) normalized() RelayConfig {
	if c.TranslateTimeout <= 0 {
		c.TranslateTimeout = 20 * time.Second
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 5 * time.Second
	}
	return c
}

// RelayService runs the per-event pipelines: admission, thread resolution,
// ownership, enrichment, publish and the final status write.
type RelayService struct {
	deps RelayDeps
	cfg  RelayConfig
}

// NewRelayService creates the relay pipelines.
func NewRelayService(deps RelayDeps, cfg RelayConfig) (*RelayService, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("relay: store is required")
	case deps.Guard == nil:
		return nil, errors.New("relay: idempotency guard is required")
	case deps.Resolver == nil:
		return nil, errors.New("relay: threading resolver is required")
	case deps.Owners == nil:
		return nil, errors.New("relay: ownership tracker is required")
	case deps.Publisher == nil:
		return nil, errors.New("relay: publisher is required")
	}
	if deps.Translator == nil {
		deps.Translator = translate.Passthrough{}
	}
	return &RelayService{deps: deps, cfg: cfg.normalized()}, nil
}

// HandleSignal admits a new root message and publishes it. Duplicates are
// dropped; only store failures are returned.
func (s *RelayService) HandleSignal(ctx context.Context, ev bus.InboundEvent) error {
	key := idempotency.Key{Kind: signal.KindSignal, ChatID: ev.ChatID, MessageID: ev.MessageID}

	seen, err := s.deps.Guard.AlreadyProcessed(ctx, ev.ChatID, ev.MessageID, signal.KindSignal)
	if err != nil {
		return err
	}
	if seen {
		s.Drop(ev, signal.KindSignal, domain.DropDuplicate)
		return nil
	}

	sig := signal.NewSignal(ev.ChatID, ev.MessageID, ev.SenderID, ev.Content)
	admitted, err := s.deps.Guard.Admit(ctx, key, func(ctx context.Context) error {
		_, err := s.deps.Store.InsertSignal(ctx, sig)
		return err
	})
	if err != nil {
		return fmt.Errorf("admit signal %s: %w", key, err)
	}
	if !admitted {
		s.Drop(ev, signal.KindSignal, domain.DropDuplicate)
		return nil
	}
	s.publishEvents(sig)

	if ev.SenderID != nil {
		s.recordOwner(ctx, sig, *ev.SenderID)
	}

	return s.deliver(ctx, delivery{
		kind:     signal.KindSignal,
		rec:      sig,
		thread:   sig.Thread(),
		original: ev.Content,
		sender:   ev.SenderID,
	})
}

// HandleReply admits a threaded reply and publishes it under its parent.
// Unresolvable, unauthorized, empty and duplicate replies are dropped.
func (s *RelayService) HandleReply(ctx context.Context, ev bus.InboundEvent) error {
	if strings.TrimSpace(ev.Content) == "" {
		s.Drop(ev, signal.KindUpdate, domain.DropEmptyContent)
		return nil
	}

	key := idempotency.Key{Kind: signal.KindUpdate, ChatID: ev.ChatID, MessageID: ev.MessageID}
	seen, err := s.deps.Guard.AlreadyProcessed(ctx, ev.ChatID, ev.MessageID, signal.KindUpdate)
	if err != nil {
		return err
	}
	if seen {
		s.Drop(ev, signal.KindUpdate, domain.DropDuplicate)
		return nil
	}

	parent, err := s.deps.Resolver.Resolve(ctx, ev.ChatID, ev.ReplyTo)
	if err != nil {
		if threading.IsDroppable(err) {
			s.Drop(ev, signal.KindUpdate, threading.DropReason(err))
			return nil
		}
		return err
	}

	ok, err := s.deps.Owners.IsAuthorized(ctx, parent.Thread(), ev.SenderID)
	if err != nil {
		return err
	}
	if !ok {
		s.Drop(ev, signal.KindUpdate, domain.DropUnauthorized)
		return nil
	}

	u := signal.NewUpdate(parent, ev.MessageID, ev.SenderID, ev.Content)
	admitted, err := s.deps.Guard.Admit(ctx, key, func(ctx context.Context) error {
		_, err := s.deps.Store.InsertUpdate(ctx, u)
		return err
	})
	if err != nil {
		if signal.IsNotFound(err) {
			s.Drop(ev, signal.KindUpdate, domain.DropOrphanReply)
			return nil
		}
		return fmt.Errorf("admit update %s: %w", key, err)
	}
	if !admitted {
		s.Drop(ev, signal.KindUpdate, domain.DropDuplicate)
		return nil
	}

	return s.deliver(ctx, delivery{
		kind:     signal.KindUpdate,
		rec:      u,
		thread:   parent.Thread(),
		original: ev.Content,
		sender:   ev.SenderID,
		replyTo:  parent.Destination.MessageID,
	})
}

// Recover moves records left PENDING or PROCESSING by a previous run to
// ERROR. Call it before intake starts.
func (s *RelayService) Recover(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.deps.Store.MarkStale(ctx, time.Now().UTC().Add(-olderThan), ReasonInterrupted)
	if err != nil {
		return n, fmt.Errorf("recover stale records: %w", err)
	}
	if n > 0 {
		logger.WarnCF("relay", "Marked interrupted records as failed", map[string]interface{}{
			"count": n,
		})
	}
	return n, nil
}

// Drop records a silent filter decision: debug log, metric and event.
func (s *RelayService) Drop(ev bus.InboundEvent, kind signal.Kind, reason domain.DropReason) {
	metrics.EventsDropped.WithLabelValues(reason.String()).Inc()
	logger.DebugCF("relay", "Event dropped", map[string]interface{}{
		"reason":     reason.String(),
		"kind":       kind.String(),
		"channel":    string(ev.Channel),
		"chat_id":    ev.ChatID,
		"message_id": ev.MessageID,
	})
	s.publish(domain.NewEvent(domain.EventDropped, "", map[string]interface{}{
		"reason":     reason.String(),
		"kind":       kind.String(),
		"chat_id":    ev.ChatID,
		"message_id": ev.MessageID,
	}))
}

// ---------------------------------------------------------------------------
// Delivery: enrichment, publish, final status
// ---------------------------------------------------------------------------

// lifecycle is what Signal and Update share.
type lifecycle interface {
	ID() domain.EntityID
	SetTranslated(text string)
	MarkProcessing() (signal.StatusChange, error)
	MarkPosted(dest signal.Destination) (signal.StatusChange, error)
	MarkError(reason string) (signal.StatusChange, error)
	PullEvents() []domain.Event
}

type delivery struct {
	kind     signal.Kind
	rec      lifecycle
	thread   signal.ThreadID
	original string
	sender   *int64
	replyTo  string // destination message id of the parent, empty for roots
}

func (d delivery) fields() map[string]interface{} {
	return map[string]interface{}{
		"kind":   d.kind.String(),
		"id":     d.rec.ID().String(),
		"thread": d.thread.String(),
	}
}

func (s *RelayService) deliver(ctx context.Context, d delivery) error {
	change, err := d.rec.MarkProcessing()
	if err != nil {
		return err
	}
	if err := s.deps.Store.UpdateStatus(ctx, d.kind, d.rec.ID(), change); err != nil {
		return s.abort(ctx, d, fmt.Errorf("mark processing: %w", err))
	}

	text := s.enrich(ctx, d)
	d.rec.SetTranslated(text)
	body := s.render(d, text)

	dest, err := s.deps.Publisher.Publish(ctx, body, d.replyTo)
	if err != nil {
		if ctx.Err() != nil {
			return s.abort(ctx, d, err)
		}
		metrics.PublishFailures.WithLabelValues(d.kind.String()).Inc()
		fields := d.fields()
		fields["error"] = err.Error()
		logger.ErrorCF("relay", "Publish failed", fields)
		return s.fail(ctx, d, err.Error())
	}

	change, err = d.rec.MarkPosted(dest)
	if err != nil {
		return err
	}
	// The message is out: record it even if the pipeline is being cancelled.
	wctx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.deps.Store.UpdateStatus(wctx, d.kind, d.rec.ID(), change); err != nil {
		return fmt.Errorf("record posted %s %s: %w", d.kind, d.rec.ID(), err)
	}

	metrics.Published.WithLabelValues(d.kind.String()).Inc()
	s.publishEvents(d.rec)
	if s.deps.Taps != nil {
		s.deps.Taps.PublishOutbound(bus.OutboundMessage{
			Channel:   s.cfg.Destination,
			ChatID:    dest.ChatID,
			MessageID: dest.MessageID,
			ReplyTo:   d.replyTo,
			Content:   body,
		})
	}

	fields := d.fields()
	fields["dest_message_id"] = dest.MessageID
	logger.InfoCF("relay", "Posted", fields)
	return nil
}

// enrich translates best-effort. Any failure publishes the original.
func (s *RelayService) enrich(ctx context.Context, d delivery) string {
	tctx, cancel := context.WithTimeout(ctx, s.cfg.TranslateTimeout)
	defer cancel()

	text, err := s.deps.Translator.Translate(tctx, d.original)
	if err != nil || text == "" {
		metrics.TranslationFallbacks.Inc()
		fields := d.fields()
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.WarnCF("relay", "Translation failed, publishing original", fields)
		return d.original
	}
	return text
}

func (s *RelayService) render(d delivery, text string) string {
	if s.deps.Template == nil {
		return text
	}
	data := templates.Data{
		Content:  text,
		Original: d.original,
		Thread:   d.thread.String(),
	}
	if d.sender != nil {
		data.SenderID = strconv.FormatInt(*d.sender, 10)
	}
	out, err := s.deps.Template.Render(d.kind, data)
	if err != nil || out == "" {
		fields := d.fields()
		if err != nil {
			fields["error"] = err.Error()
		}
		logger.WarnCF("relay", "Template render failed, publishing unformatted", fields)
		return text
	}
	return out
}

// fail marks the record ERROR with reason. The pipeline itself succeeded in
// handling the failure, so nil is returned unless the write fails.
func (s *RelayService) fail(ctx context.Context, d delivery, reason string) error {
	change, err := d.rec.MarkError(reason)
	if err != nil {
		return err
	}
	wctx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.deps.Store.UpdateStatus(wctx, d.kind, d.rec.ID(), change); err != nil {
		return fmt.Errorf("record failure %s %s: %w", d.kind, d.rec.ID(), err)
	}
	s.publishEvents(d.rec)
	return nil
}

// abort ends a pipeline that cannot continue. The record is marked ERROR
// (reason "cancelled" when ctx was cancelled) and cause is returned.
func (s *RelayService) abort(ctx context.Context, d delivery, cause error) error {
	reason := cause.Error()
	if ctx.Err() != nil {
		reason = ReasonCancelled
	}
	if err := s.fail(ctx, d, reason); err != nil {
		logger.ErrorCF("relay", "Could not mark record as failed", map[string]interface{}{
			"id":    d.rec.ID().String(),
			"error": err.Error(),
		})
	}
	return cause
}

// recordOwner writes the root's sender to the ownership tracker. Only a
// conflicting owner is a violation; a closed tracker or an unreachable store
// leaves the signal unaffected.
func (s *RelayService) recordOwner(ctx context.Context, sig *signal.Signal, sender int64) {
	err := s.deps.Owners.RecordOwner(ctx, sig.Thread(), sender)
	switch {
	case err == nil:
	case errors.Is(err, ownership.ErrOwnershipReassigned):
		logger.WarnCF("relay", "Ownership write rejected", map[string]interface{}{
			"thread": sig.Thread().String(),
			"sender": sender,
			"error":  err.Error(),
		})
		s.publish(domain.NewEvent(domain.EventOwnershipViolation, sig.ID(), map[string]interface{}{
			"thread": sig.Thread().String(),
			"sender": sender,
		}))
	case errors.Is(err, ownership.ErrClosed):
		logger.DebugCF("relay", "Ownership tracker closed, owner not cached", map[string]interface{}{
			"thread": sig.Thread().String(),
		})
	default:
		logger.WarnCF("relay", "Ownership write failed", map[string]interface{}{
			"thread": sig.Thread().String(),
			"error":  err.Error(),
		})
	}
}

func (s *RelayService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.FinalizeTimeout)
}

func (s *RelayService) publishEvents(agg interface{ PullEvents() []domain.Event }) {
	for _, event := range agg.PullEvents() {
		s.publish(event)
	}
}

func (s *RelayService) publish(event domain.Event) {
	if s.deps.EventBus != nil {
		s.deps.EventBus.Publish(event)
	}
}
