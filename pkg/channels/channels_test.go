package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

type counter struct {
	sent, failed, received int
}

func (c *counter) RecordSent(string) error { c.sent++; return nil }
func (c *counter) RecordSendFailure(string) error { c.failed++; return nil }
func (c *counter) MarkConnected(string) error { return nil }
func (c *counter) MarkDisconnected(string) error { return nil }
func (c *counter) MarkError(string, error) error { return nil }
func (c *counter) RecordReceived(string) error { c.received++; return nil }

func TestPublishFailureWrapsBoth(t *testing.T) {
	cause := errors.New("timeout")
	err := PublishFailure("telegram", cause)
	assert.ErrorIs(t, err, signal.ErrPublishFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "telegram")
}

func TestReportedCountsOutcomes(t *testing.T) {
	c := &counter{}
	fail := true
	pub := Reported("slack", signal.PublisherFunc(func(context.Context, string, string) (signal.Destination, error) {
		if fail {
			return signal.Destination{}, PublishFailure("slack", errors.New("boom"))
		}
		return signal.Destination{MessageID: "1"}, nil
	}), c)

	_, err := pub.Publish(context.Background(), "x", "")
	assert.Error(t, err)
	fail = false
	_, err = pub.Publish(context.Background(), "x", "")
	require.NoError(t, err)

	assert.Equal(t, 1, c.sent)
	assert.Equal(t, 1, c.failed)
}

func TestDeliverCountsOnlyAccepted(t *testing.T) {
	c := &counter{}
	mb := bus.NewMessageBus(1)

	require.NoError(t, Deliver(context.Background(), mb, c, "webhook", bus.InboundEvent{ChatID: 1, MessageID: 1}))
	mb.Close()
	assert.ErrorIs(t, Deliver(context.Background(), mb, c, "webhook", bus.InboundEvent{ChatID: 1, MessageID: 2}), bus.ErrClosed)

	assert.Equal(t, 1, c.received)
}
