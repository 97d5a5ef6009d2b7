package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
)

func event(id int64) InboundEvent {
	return InboundEvent{Channel: domain.ChannelConsole, ChatID: 1, MessageID: id, Content: "x"}
}

func TestInboundIsFIFO(t *testing.T) {
	mb := NewMessageBus(4)
	defer mb.Close()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, mb.PublishInbound(ctx, event(i)))
	}
	assert.Equal(t, 3, mb.Pending())

	for i := int64(1); i <= 3; i++ {
		ev, ok := mb.ConsumeInbound(ctx)
		require.True(t, ok)
		assert.Equal(t, i, ev.MessageID)
	}
	assert.Equal(t, 0, mb.Pending())
}

func TestPublishInboundBlocksWhenFull(t *testing.T) {
	mb := NewMessageBus(1)
	defer mb.Close()
	require.NoError(t, mb.PublishInbound(context.Background(), event(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := mb.PublishInbound(ctx, event(2))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCloseDrainsAcceptedEvents(t *testing.T) {
	mb := NewMessageBus(4)
	require.NoError(t, mb.PublishInbound(context.Background(), event(1)))
	mb.Close()

	assert.ErrorIs(t, mb.PublishInbound(context.Background(), event(2)), ErrClosed)

	ev, ok := mb.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, int64(1), ev.MessageID)

	_, ok = mb.ConsumeInbound(context.Background())
	assert.False(t, ok)
}

func TestConsumeStopsOnCancel(t *testing.T) {
	mb := NewMessageBus(1)
	defer mb.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := mb.ConsumeInbound(ctx)
	assert.False(t, ok)
}

func TestTapsReceiveCopies(t *testing.T) {
	mb := NewMessageBus(4)
	in := mb.SubscribeInboundTap("a")
	out := mb.SubscribeOutboundTap("b")
	sys := mb.SubscribeSystem("c")

	require.NoError(t, mb.PublishInbound(context.Background(), event(9)))
	mb.PublishOutbound(OutboundMessage{MessageID: "m1"})
	mb.PublishSystem(SystemEvent{Type: "signal.posted"})

	assert.Equal(t, int64(9), (<-in).(InboundEvent).MessageID)
	assert.Equal(t, "m1", (<-out).(OutboundMessage).MessageID)
	assert.Equal(t, "signal.posted", (<-sys).(SystemEvent).Type)

	mb.Close()
	_, open := <-sys
	assert.False(t, open)
}

func TestSlowTapDropsInsteadOfBlocking(t *testing.T) {
	mb := NewMessageBus(4)
	defer mb.Close()
	_ = mb.SubscribeSystem("slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			mb.PublishSystem(SystemEvent{Type: "tick"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a slow tap")
	}
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	mb := NewMessageBus(1)
	mb.Close()
	_, open := <-mb.SubscribeSystem("late")
	assert.False(t, open)
}

func TestInboundIsReply(t *testing.T) {
	assert.False(t, event(1).IsReply())
	ev := event(2)
	ev.ReplyTo = Int64(1)
	assert.True(t, ev.IsReply())
}
