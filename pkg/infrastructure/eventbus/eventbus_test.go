package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
)

func TestPublishOrder(t *testing.T) {
	b := New()
	var got []string

	b.SubscribeAll(func(e domain.Event) { got = append(got, "all:"+string(e.EventType())) })
	b.Subscribe(domain.EventSignalPosted, func(e domain.Event) { got = append(got, "typed:"+string(e.EventType())) })

	b.Publish(domain.NewEvent(domain.EventSignalPosted, "s1", nil))
	b.Publish(domain.NewEvent(domain.EventDropped, "s2", nil))

	assert.Equal(t, []string{
		"typed:signal.posted",
		"all:signal.posted",
		"all:event.dropped",
	}, got)
	assert.Equal(t, 2, b.HandlerCount())
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	b := New()
	called := false

	b.Subscribe(domain.EventTaskFailed, func(domain.Event) { panic("bad handler") })
	b.SubscribeAll(func(domain.Event) { called = true })

	assert.NotPanics(t, func() {
		b.Publish(domain.NewEvent(domain.EventTaskFailed, "t1", nil))
	})
	assert.True(t, called)
}

func TestClosedBusDropsEvents(t *testing.T) {
	b := New()
	count := 0
	b.SubscribeAll(func(domain.Event) { count++ })

	b.PublishAll([]domain.Event{
		domain.NewEvent(domain.EventSignalReceived, "a", nil),
		domain.NewEvent(domain.EventSignalPosted, "a", nil),
	})
	b.Close()
	b.Publish(domain.NewEvent(domain.EventSignalFailed, "a", nil))

	assert.Equal(t, 2, count)
}
