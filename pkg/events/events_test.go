package events

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/infrastructure/eventbus"
)

func TestTruncateIsRuneSafe(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "При…", Truncate("Привет", 3))
	assert.Equal(t, 201, len([]rune(Truncate(strings.Repeat("x", 500), PreviewLength))))
}

func TestFromInbound(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := FromInbound(bus.InboundEvent{
		Channel:   domain.ChannelTelegram,
		ChatID:    -100,
		MessageID: 7,
		SenderID:  bus.Int64(42),
		ReplyTo:   bus.Int64(5),
		Content:   "#signal BTC long",
		Timestamp: ts,
	})

	assert.Equal(t, MessageInbound, ev.Type)
	assert.Equal(t, "telegram", ev.Source)
	data, ok := ev.Data.(MessageEventData)
	require.True(t, ok)
	assert.Equal(t, "-100", data.ChatID)
	assert.Equal(t, "7", data.MessageID)
	assert.Equal(t, "42", data.From)
	assert.Equal(t, "5", data.ReplyTo)
	assert.Equal(t, ts, data.Timestamp)
}

func TestFromInboundWithoutSender(t *testing.T) {
	ev := FromInbound(bus.InboundEvent{Channel: domain.ChannelConsole, ChatID: 1, MessageID: 2, Content: "x"})
	data := ev.Data.(MessageEventData)
	assert.Empty(t, data.From)
	assert.Empty(t, data.ReplyTo)
}

func TestFromOutbound(t *testing.T) {
	ev := FromOutbound(bus.OutboundMessage{Channel: domain.ChannelSlack, ChatID: "C1", MessageID: "1.0", ReplyTo: "0.9", Content: "TP1"})
	assert.Equal(t, MessageOutbound, ev.Type)
	data := ev.Data.(MessageEventData)
	assert.Equal(t, "C1", data.ChatID)
	assert.Equal(t, "0.9", data.ReplyTo)
	assert.Equal(t, "TP1", data.Preview)
}

func TestForwardRepublishesDomainEvents(t *testing.T) {
	eb := eventbus.New()
	defer eb.Close()
	mb := bus.NewMessageBus(4)
	defer mb.Close()
	tap := mb.SubscribeSystem("test")

	Forward(eb, mb)
	eb.Publish(domain.NewEvent(domain.EventSignalPosted, "sig-1", map[string]interface{}{"thread": "1:100"}))

	select {
	case msg := <-tap:
		ev, ok := msg.(bus.SystemEvent)
		require.True(t, ok)
		assert.Equal(t, "signal.posted", ev.Type)
		assert.Equal(t, "domain", ev.Source)
		data := ev.Data.(DomainEventData)
		assert.Equal(t, "sig-1", data.AggregateID)
	case <-time.After(time.Second):
		t.Fatal("domain event not forwarded")
	}
}
