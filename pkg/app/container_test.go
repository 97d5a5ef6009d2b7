package app

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liker0704/telegram-signals-parisng/pkg/bus"
	"github.com/liker0704/telegram-signals-parisng/pkg/config"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.API.Enabled = false
	cfg.Ownership.SweepInterval = 10 * time.Millisecond
	return cfg
}

func TestContainerRelaysEndToEnd(t *testing.T) {
	pub := &fakePublisher{}
	c, err := NewContainer(context.Background(), testConfig(), WithPublisher("test-out", domain.ChannelConsole, pub))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	system := c.Bus.SubscribeSystem("test")

	require.NoError(t, c.Bus.PublishInbound(ctx, rootEvent(1, 100, 42, "#signal BTC long")))
	require.Eventually(t, func() bool { return len(pub.Calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Bus.PublishInbound(ctx, replyEvent(1, 101, 42, 100, "TP1")))
	require.Eventually(t, func() bool { return len(pub.Calls()) == 2 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "500", pub.Calls()[1].ReplyTo)

	var types []string
	require.Eventually(t, func() bool {
		for len(system) > 0 {
			if ev, ok := (<-system).(bus.SystemEvent); ok {
				types = append(types, ev.Type)
			}
		}
		ch, err := c.Channels.GetChannel("test-out")
		return err == nil && ch.Metrics.MessagesSent == 2 &&
			slices.Contains(types, string(domain.EventReplyPosted))
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, types, string(domain.EventSignalPosted))

	status := c.Status(context.Background())
	assert.Equal(t, "ok", status["store"])

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestContainerRecoversOnRun(t *testing.T) {
	cfg := testConfig()
	cfg.Intake.RecoverAfter = 0
	c, err := NewContainer(context.Background(), cfg, WithPublisher("test-out", domain.ChannelConsole, &fakePublisher{}))
	require.NoError(t, err)

	_, err = c.Store.InsertSignal(context.Background(), signal.NewSignal(1, 100, nil, "#signal"))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))

	sig, err := c.Store.FindSignalBySource(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Equal(t, signal.StatusError, sig.Status)
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestContainerRejectsUnknownTemplate(t *testing.T) {
	cfg := testConfig()
	cfg.Publisher.Template = "nope"
	_, err := NewContainer(context.Background(), cfg)
	assert.ErrorContains(t, err, "nope")
}

func TestContainerDrainWaitsForPipelines(t *testing.T) {
	pub := &fakePublisher{}
	c, err := NewContainer(context.Background(), testConfig(), WithPublisher("test-out", domain.ChannelConsole, pub))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, c.Bus.PublishInbound(ctx, rootEvent(1, 100+i, 42, "#signal BTC long")))
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, 2*time.Second)
	defer drainCancel()
	require.NoError(t, c.Drain(drainCtx))
	assert.Len(t, pub.Calls(), 5)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, c.Shutdown(context.Background()))
}
