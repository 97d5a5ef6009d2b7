package ownership

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mapSource is an OwnerSource backed by a map, counting lookups.
type mapSource struct {
	mu      sync.Mutex
	owners  map[signal.ThreadID]*int64
	calls   atomic.Int32
	failErr error
}

func newMapSource() *mapSource {
	return &mapSource{owners: make(map[signal.ThreadID]*int64)}
}

func (s *mapSource) set(thread signal.ThreadID, sender *int64) {
	s.mu.Lock()
	s.owners[thread] = sender
	s.mu.Unlock()
}

func (s *mapSource) OriginatingSender(_ context.Context, thread signal.ThreadID) (*int64, error) {
	s.calls.Add(1)
	if s.failErr != nil {
		return nil, s.failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sender, ok := s.owners[thread]
	if !ok {
		return nil, signal.ErrNotFound
	}
	return sender, nil
}

func ptr(v int64) *int64 { return &v }

var thread = signal.ThreadID{ChatID: 1, MessageID: 100}

func TestRecordOwnerAndAuthorize(t *testing.T) {
	src := newMapSource()
	tr := New(src, Config{})

	require.NoError(t, tr.RecordOwner(context.Background(), thread, 42))
	assert.Equal(t, int32(1), src.calls.Load(), "first record checks the store")

	ok, err := tr.IsAuthorized(context.Background(), thread, ptr(42))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.IsAuthorized(context.Background(), thread, ptr(99))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tr.IsAuthorized(context.Background(), thread, nil)
	require.NoError(t, err)
	assert.False(t, ok, "nil sender must not extend an owned thread")

	assert.Equal(t, int32(1), src.calls.Load(), "cache hits must not touch the store")
}

func TestRecordOwnerIsIdempotent(t *testing.T) {
	tr := New(newMapSource(), Config{})

	require.NoError(t, tr.RecordOwner(context.Background(), thread, 42))
	require.NoError(t, tr.RecordOwner(context.Background(), thread, 42))
	assert.Equal(t, 1, tr.Len())
}

func TestRecordOwnerRejectsReassignment(t *testing.T) {
	tr := New(newMapSource(), Config{})

	require.NoError(t, tr.RecordOwner(context.Background(), thread, 42))
	err := tr.RecordOwner(context.Background(), thread, 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOwnershipReassigned))

	ok, err := tr.IsAuthorized(context.Background(), thread, ptr(42))
	require.NoError(t, err)
	assert.True(t, ok, "original owner keeps the thread")
}

func TestRecordOwnerRejectsReassignmentAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	src := newMapSource()
	src.set(thread, ptr(42))
	tr := New(src, Config{TTL: time.Minute, Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, tr.RecordOwner(ctx, thread, 42))
	clock.Advance(2 * time.Minute)

	err := tr.RecordOwner(ctx, thread, 99)
	assert.ErrorIs(t, err, ErrOwnershipReassigned)

	ok, err := tr.IsAuthorized(ctx, thread, ptr(42))
	require.NoError(t, err)
	assert.True(t, ok, "durable owner keeps the thread")
	ok, err = tr.IsAuthorized(ctx, thread, ptr(99))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordOwnerRejectsReassignmentAfterFlush(t *testing.T) {
	src := newMapSource()
	src.set(thread, ptr(42))
	tr := New(src, Config{})
	ctx := context.Background()

	require.NoError(t, tr.RecordOwner(ctx, thread, 42))
	tr.Flush()

	assert.ErrorIs(t, tr.RecordOwner(ctx, thread, 99), ErrOwnershipReassigned)
	assert.Equal(t, 1, tr.Len(), "the stored owner is cached, not the caller")
	require.NoError(t, tr.RecordOwner(ctx, thread, 42))
}

func TestRecordOwnerReportsStoreFailure(t *testing.T) {
	src := newMapSource()
	src.failErr = errors.New("connection refused")
	tr := New(src, Config{})

	err := tr.RecordOwner(context.Background(), thread, 42)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrOwnershipReassigned))
	assert.Zero(t, tr.Len())
}

func TestCacheMissFallsBackToStore(t *testing.T) {
	src := newMapSource()
	src.set(thread, ptr(42))
	tr := New(src, Config{})

	ok, err := tr.IsAuthorized(context.Background(), thread, ptr(42))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 1, tr.Len(), "store result is written back")

	ok, err = tr.IsAuthorized(context.Background(), thread, ptr(99))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), src.calls.Load(), "second check is served from cache")
}

func TestUnknownThreadIsNotAuthorized(t *testing.T) {
	tr := New(newMapSource(), Config{})

	ok, err := tr.IsAuthorized(context.Background(), thread, ptr(42))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, tr.Len())
}

func TestStoreErrorPropagates(t *testing.T) {
	src := newMapSource()
	src.failErr = errors.New("connection refused")
	tr := New(src, Config{})

	_, err := tr.IsAuthorized(context.Background(), thread, ptr(42))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMissingOriginatingSender(t *testing.T) {
	tests := []struct {
		name       string
		failClosed bool
		want       bool
	}{
		{name: "fail open by default", failClosed: false, want: true},
		{name: "fail closed when configured", failClosed: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newMapSource()
			src.set(thread, nil)
			tr := New(src, Config{FailClosed: tt.failClosed})

			ok, err := tr.IsAuthorized(context.Background(), thread, ptr(7))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Zero(t, tr.Len(), "an absent owner is never cached")
		})
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	src := newMapSource()
	src.set(thread, ptr(42))
	tr := New(src, Config{TTL: time.Minute, Now: clock.Now})

	require.NoError(t, tr.RecordOwner(context.Background(), thread, 42))
	src.calls.Store(0)

	clock.Advance(59 * time.Second)
	ok, err := tr.IsAuthorized(context.Background(), thread, ptr(42))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, src.calls.Load())

	// The lookup above refreshed the entry; a full TTL of inactivity expires it.
	clock.Advance(time.Minute)
	ok, err = tr.IsAuthorized(context.Background(), thread, ptr(42))
	require.NoError(t, err)
	assert.True(t, ok, "falls back to the store after expiry")
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	clock := newFakeClock()
	tr := New(newMapSource(), Config{TTL: time.Minute, Now: clock.Now})

	for i := int64(0); i < 5; i++ {
		require.NoError(t, tr.RecordOwner(context.Background(), signal.ThreadID{ChatID: 1, MessageID: i}, 42))
	}
	clock.Advance(30 * time.Second)
	require.NoError(t, tr.RecordOwner(context.Background(), signal.ThreadID{ChatID: 1, MessageID: 99}, 42))
	clock.Advance(45 * time.Second)

	assert.Equal(t, 5, tr.Sweep())
	assert.Equal(t, 1, tr.Len())
}

func TestPeriodicSweepEveryNOperations(t *testing.T) {
	clock := newFakeClock()
	tr := New(newMapSource(), Config{TTL: time.Minute, SweepEvery: 4, Now: clock.Now})

	require.NoError(t, tr.RecordOwner(context.Background(), signal.ThreadID{ChatID: 1, MessageID: 1}, 1))
	require.NoError(t, tr.RecordOwner(context.Background(), signal.ThreadID{ChatID: 1, MessageID: 2}, 1))
	clock.Advance(2 * time.Minute)
	require.NoError(t, tr.RecordOwner(context.Background(), signal.ThreadID{ChatID: 1, MessageID: 3}, 1))
	assert.Equal(t, 3, tr.Len(), "no sweep before the 4th operation")

	require.NoError(t, tr.RecordOwner(context.Background(), signal.ThreadID{ChatID: 1, MessageID: 4}, 1))
	assert.Equal(t, 2, tr.Len(), "4th operation sweeps the expired entries")
}

func TestCeilingBoundsCache(t *testing.T) {
	clock := newFakeClock()
	const ceiling = 10
	tr := New(newMapSource(), Config{TTL: time.Hour, MaxEntries: ceiling, SweepEvery: 1000, Now: clock.Now})

	for i := int64(0); i < 50; i++ {
		clock.Advance(time.Second)
		require.NoError(t, tr.RecordOwner(context.Background(), signal.ThreadID{ChatID: 1, MessageID: i}, 42))
		assert.LessOrEqual(t, tr.Len(), ceiling)
	}

	// The newest entry survives; the oldest ones were evicted first.
	ok, err := tr.IsAuthorized(context.Background(), signal.ThreadID{ChatID: 1, MessageID: 49}, ptr(42))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCeilingEvictsOldestFraction(t *testing.T) {
	clock := newFakeClock()
	tr := New(newMapSource(), Config{TTL: time.Hour, MaxEntries: 10, SweepEvery: 1000, EvictFraction: 0.2, Now: clock.Now})

	for i := int64(0); i < 11; i++ {
		clock.Advance(time.Second)
		require.NoError(t, tr.RecordOwner(context.Background(), signal.ThreadID{ChatID: 1, MessageID: i}, 42))
	}
	// 11 entries exceed the ceiling: 20% of 11 rounds down to 2.
	assert.Equal(t, 9, tr.Len())

	src := newMapSource()
	tr.source = src
	_, err := tr.IsAuthorized(context.Background(), signal.ThreadID{ChatID: 1, MessageID: 0}, ptr(42))
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load(), "oldest entry was evicted")
}

func TestFlushAndClose(t *testing.T) {
	src := newMapSource()
	src.set(thread, ptr(42))
	tr := New(src, Config{})

	require.NoError(t, tr.RecordOwner(context.Background(), thread, 42))
	tr.Flush()
	assert.Zero(t, tr.Len())

	tr.Close()
	assert.ErrorIs(t, tr.RecordOwner(context.Background(), thread, 42), ErrClosed)

	ok, err := tr.IsAuthorized(context.Background(), thread, ptr(42))
	require.NoError(t, err)
	assert.True(t, ok, "checks still work against the store after close")
	assert.Zero(t, tr.Len())
}

func TestConcurrentAccess(t *testing.T) {
	src := newMapSource()
	for i := int64(0); i < 50; i++ {
		src.set(signal.ThreadID{ChatID: 1, MessageID: i}, ptr(i))
	}
	tr := New(src, Config{MaxEntries: 20, SweepEvery: 7})

	var wg sync.WaitGroup
	var violations atomic.Int32
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := int64(0); i < 200; i++ {
				id := i % 50
				th := signal.ThreadID{ChatID: 1, MessageID: id}
				if w%2 == 0 {
					if err := tr.RecordOwner(context.Background(), th, id); err != nil {
						violations.Add(1)
					}
					continue
				}
				ok, err := tr.IsAuthorized(context.Background(), th, ptr(id))
				if err != nil || !ok {
					violations.Add(1)
				}
				if ok, _ := tr.IsAuthorized(context.Background(), th, ptr(id+1000)); ok {
					violations.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()

	assert.Zero(t, violations.Load())
	assert.LessOrEqual(t, tr.Len(), 20)
}

func TestJanitorHonoursSchedule(t *testing.T) {
	clock := newFakeClock()
	tr := New(newMapSource(), Config{TTL: time.Minute, Now: clock.Now})
	require.NoError(t, tr.RecordOwner(context.Background(), thread, 42))
	clock.Advance(2 * time.Minute)

	// 12:02 is not on a 5-minute boundary.
	j, err := NewJanitor(tr, time.Minute, "*/5 * * * *")
	require.NoError(t, err)
	assert.Zero(t, j.tick())
	assert.Equal(t, 1, tr.Len())

	clock.Advance(3 * time.Minute)
	assert.Equal(t, 1, j.tick())
	assert.Zero(t, tr.Len())
}

func TestJanitorRejectsInvalidSchedule(t *testing.T) {
	_, err := NewJanitor(New(newMapSource(), Config{}), time.Minute, "not a cron")
	require.Error(t, err)
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	tr := New(newMapSource(), Config{})
	j, err := NewJanitor(tr, time.Millisecond, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
