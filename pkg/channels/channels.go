// Package channels holds the transport adapters that feed the relay and the
// publishers that deliver to the destination channel.
//
// Sources push bus.InboundEvent values onto the intake bus; they never run
// pipeline logic themselves. Publishers implement signal.Publisher and wrap
// every transport error in signal.ErrPublishFailure.
package channels

import (
	"context"
	"fmt"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// Source is a long-running inbound transport. Start blocks until ctx is
// cancelled or the transport fails.
type Source interface {
	Name() string
	Start(ctx context.Context) error
}

// Inbound is the slice of the message bus a source writes to.
type Inbound interface {
	PublishInbound(ctx context.Context, ev bus.InboundEvent) error
}

// Reporter receives transport state changes. app.ChannelService implements it.
type Reporter interface {
	MarkConnected(name string) error
	MarkDisconnected(name string) error
	MarkError(name string, cause error) error
	RecordReceived(name string) error
}

// SendReporter receives publish outcomes.
type SendReporter interface {
	RecordSent(name string) error
	RecordSendFailure(name string) error
}

// NopReporter discards every report.
type NopReporter struct{}

func (NopReporter) MarkConnected(string) error { return nil }
func (NopReporter) MarkDisconnected(string) error { return nil }
func (NopReporter) MarkError(string, error) error { return nil }
func (NopReporter) RecordReceived(string) error { return nil }
func (NopReporter) RecordSent(string) error { return nil }
func (NopReporter) RecordSendFailure(string) error { return nil }

// PublishFailure wraps a transport error so callers can match it with
// errors.Is(err, signal.ErrPublishFailure) and still see the cause.
func PublishFailure(transport string, err error) error {
	return fmt.Errorf("%s: %w: %w", transport, signal.ErrPublishFailure, err)
}

// Reported decorates a publisher so every outcome reaches the reporter
// under the given channel name.
func Reported(name string, pub signal.Publisher, rep SendReporter) signal.Publisher {
	if rep == nil {
		return pub
	}
	return signal.PublisherFunc(func(ctx context.Context, content, replyTo string) (signal.Destination, error) {
		dest, err := pub.Publish(ctx, content, replyTo)
		if err != nil {
			report(name, rep.RecordSendFailure(name))
			return dest, err
		}
		report(name, rep.RecordSent(name))
		return dest, nil
	})
}

// Deliver hands an event to the intake bus and counts it on the reporter.
func Deliver(ctx context.Context, in Inbound, rep Reporter, name string, ev bus.InboundEvent) error {
	if err := in.PublishInbound(ctx, ev); err != nil {
		return err
	}
	if rep != nil {
		report(name, rep.RecordReceived(name))
	}
	return nil
}

func report(name string, err error) {
	if err != nil {
		logger.DebugCF("channels", "Channel report failed", map[string]interface{}{
			"channel": name,
			"error":   err.Error(),
		})
	}
}
