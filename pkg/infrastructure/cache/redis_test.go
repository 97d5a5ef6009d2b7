package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
	"github.com/liker0704/telegram-signals-parisng/pkg/idempotency"
)

func TestSeenKeyLayout(t *testing.T) {
	c := NewRedisSeenCacheFromClient(nil, 0)
	key := idempotency.Key{Kind: signal.KindUpdate, ChatID: -1001, MessageID: 42}

	assert.Equal(t, "relay:seen:update:-1001:42", c.seenKey(key))
	assert.Equal(t, DefaultSeenTTL, c.ttl)
}

func TestRedisSeenCache(t *testing.T) {
	url := os.Getenv("RELAY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("RELAY_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	c, err := NewRedisSeenCache(ctx, url, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	key := idempotency.Key{Kind: signal.KindSignal, ChatID: 1, MessageID: time.Now().UnixNano()}
	t.Cleanup(func() { c.client.Del(context.Background(), c.seenKey(key)) })

	seen, err := c.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, c.Mark(ctx, key))

	seen, err = c.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)

	ttl, err := c.client.TTL(ctx, c.seenKey(key)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestNewRedisSeenCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisSeenCache(context.Background(), "not-a-url", time.Minute)
	assert.Error(t, err)
}
