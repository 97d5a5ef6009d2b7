// Package ownership implements the flow ownership tracker: a bounded,
// time-limited cache answering "may this sender extend this thread?".
//
// The durable answer lives on the Signal record (its originating sender).
// The tracker is a cache-aside layer in front of it:
//   - RecordOwner writes through when a Signal is first created, after
//     checking the store for an owner that is no longer cached.
//   - IsAuthorized reads through to the store on a cache miss.
//   - Entries expire after an inactivity TTL and are evicted lazily on lookup,
//     every SweepEvery operations, and whenever the ceiling is exceeded.
//
// All cache state is guarded by a single mutex. Store I/O never happens while
// the mutex is held.
package ownership

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
	"github.com/liker0704/telegram-signals-parisng/pkg/metrics"
)

// OwnerSource resolves the originating sender of a thread from durable storage.
type OwnerSource interface {
	// OriginatingSender returns the sender recorded on the thread's Signal.
	// A nil sender with a nil error means the Signal has no recorded sender.
	// Returns signal.ErrNotFound if the thread is unknown.
	OriginatingSender(ctx context.Context, thread signal.ThreadID) (*int64, error)
}

// OwnerSourceFunc adapts a function to OwnerSource.
type OwnerSourceFunc func(ctx context.Context, thread signal.ThreadID) (*int64, error)

// OriginatingSender calls f.
func (f OwnerSourceFunc) OriginatingSender(ctx context.Context, thread signal.ThreadID) (*int64, error) {
	return f(ctx, thread)
}

// StoreSource reads the originating sender from a signal.Store.
func StoreSource(store signal.Store) OwnerSource {
	return OwnerSourceFunc(func(ctx context.Context, thread signal.ThreadID) (*int64, error) {
		s, err := store.FindSignalBySource(ctx, thread.ChatID, thread.MessageID)
		if err != nil {
			return nil, err
		}
		return s.SenderID, nil
	})
}

// Config controls cache lifetime and bounds.
type Config struct {
	// TTL is the inactivity window after which an entry expires.
	TTL time.Duration
	// MaxEntries is the hard ceiling on cached entries.
	MaxEntries int
	// SweepEvery triggers a full sweep after this many tracker operations.
	SweepEvery int
	// EvictFraction is the share of oldest entries evicted when the ceiling
	// is exceeded after expired entries are removed.
	EvictFraction float64
	// FailClosed denies replies to threads whose Signal has no recorded
	// sender. The default (false) authorizes them.
	FailClosed bool
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:           6 * time.Hour,
		MaxEntries:    10000,
		SweepEvery:    100,
		EvictFraction: 0.2,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = d.SweepEvery
	}
	if c.EvictFraction <= 0 || c.EvictFraction > 1 {
		c.EvictFraction = d.EvictFraction
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type entry struct {
	owner   int64
	touched time.Time
}

// Tracker is the flow ownership cache. Construct one per process with New and
// pass it to the units that need it; Close it on shutdown.
type Tracker struct {
	source  OwnerSource
	cfg     Config
	mu      sync.Mutex
	entries map[signal.ThreadID]*entry
	ops     int
	closed  bool
}

// New creates a tracker backed by source.
func New(source OwnerSource, cfg Config) *Tracker {
	return &Tracker{
		source:  source,
		cfg:     cfg.normalized(),
		entries: make(map[signal.ThreadID]*entry),
	}
}

// RecordOwner binds thread to sender. Re-recording the same sender is a
// no-op. Recording a different sender is rejected with
// ErrOwnershipReassigned, whether the current owner is cached or only known
// to the store. On a cache miss the durable owner is resolved first and is
// the one cached.
func (t *Tracker) RecordOwner(ctx context.Context, thread signal.ThreadID, sender int64) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	now := t.cfg.Now()
	if e := t.lookupLocked(thread, now); e != nil {
		defer t.mu.Unlock()
		owner := e.owner
		if owner == sender {
			e.touched = now
		}
		t.afterOpLocked(now)
		if owner != sender {
			return reassigned(thread, owner, sender)
		}
		return nil
	}
	t.mu.Unlock()

	owner := sender
	stored, err := t.source.OriginatingSender(ctx, thread)
	switch {
	case err == nil && stored != nil:
		owner = *stored
	case err != nil && !signal.IsNotFound(err):
		return fmt.Errorf("resolve owner of %s: %w", thread, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	now = t.cfg.Now()
	if e := t.lookupLocked(thread, now); e != nil {
		// A concurrent writer cached the thread while the store was consulted.
		owner = e.owner
	}
	t.entries[thread] = &entry{owner: owner, touched: now}
	t.afterOpLocked(now)
	if owner != sender {
		return reassigned(thread, owner, sender)
	}
	return nil
}

func reassigned(thread signal.ThreadID, owner, sender int64) error {
	return fmt.Errorf("%w: thread %s is owned by %d, refused %d",
		ErrOwnershipReassigned, thread, owner, sender)
}

// IsAuthorized reports whether sender may extend thread. A nil sender is
// never authorized on a thread that has an owner.
func (t *Tracker) IsAuthorized(ctx context.Context, thread signal.ThreadID, sender *int64) (bool, error) {
	t.mu.Lock()
	now := t.cfg.Now()
	var (
		owner int64
		hit   bool
	)
	if e := t.lookupLocked(thread, now); e != nil {
		e.touched = now
		owner, hit = e.owner, true
	}
	t.afterOpLocked(now)
	t.mu.Unlock()

	if hit {
		metrics.OwnershipLookups.WithLabelValues("hit").Inc()
		return sender != nil && *sender == owner, nil
	}
	metrics.OwnershipLookups.WithLabelValues("miss").Inc()

	stored, err := t.source.OriginatingSender(ctx, thread)
	if err != nil {
		if signal.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("resolve owner of %s: %w", thread, err)
	}
	if stored == nil {
		return !t.cfg.FailClosed, nil
	}

	t.remember(thread, *stored)
	return sender != nil && *sender == *stored, nil
}

// remember writes a store-resolved owner back into the cache. On a race with
// a concurrent write the last writer wins; both carry the durable value.
func (t *Tracker) remember(thread signal.ThreadID, owner int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	now := t.cfg.Now()
	t.entries[thread] = &entry{owner: owner, touched: now}
	t.afterOpLocked(now)
}

// lookupLocked returns the live entry for thread, evicting it if expired.
func (t *Tracker) lookupLocked(thread signal.ThreadID, now time.Time) *entry {
	e, ok := t.entries[thread]
	if !ok {
		return nil
	}
	if t.expired(e, now) {
		delete(t.entries, thread)
		metrics.OwnershipEvictions.WithLabelValues("expired").Inc()
		return nil
	}
	return e
}

func (t *Tracker) expired(e *entry, now time.Time) bool {
	return now.Sub(e.touched) >= t.cfg.TTL
}

func (t *Tracker) afterOpLocked(now time.Time) {
	t.ops++
	if t.ops%t.cfg.SweepEvery == 0 || len(t.entries) > t.cfg.MaxEntries {
		t.sweepLocked(now)
	}
	metrics.OwnershipEntries.Set(float64(len(t.entries)))
}

// sweepLocked drops expired entries, then, if the cache is still above its
// ceiling, the oldest EvictFraction of what remains (at least enough to get
// back under the ceiling). Returns the number of entries removed.
func (t *Tracker) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range t.entries {
		if t.expired(e, now) {
			delete(t.entries, k)
			removed++
		}
	}
	if removed > 0 {
		metrics.OwnershipEvictions.WithLabelValues("expired").Add(float64(removed))
	}

	if len(t.entries) <= t.cfg.MaxEntries {
		return removed
	}

	type aged struct {
		key     signal.ThreadID
		touched time.Time
	}
	byAge := make([]aged, 0, len(t.entries))
	for k, e := range t.entries {
		byAge = append(byAge, aged{key: k, touched: e.touched})
	}
	sort.Slice(byAge, func(i, j int) bool { return byAge[i].touched.Before(byAge[j].touched) })

	n := int(float64(len(byAge)) * t.cfg.EvictFraction)
	if over := len(byAge) - t.cfg.MaxEntries; n < over {
		n = over
	}
	for _, a := range byAge[:n] {
		delete(t.entries, a.key)
	}
	metrics.OwnershipEvictions.WithLabelValues("ceiling").Add(float64(n))
	return removed + n
}

// Sweep runs an eviction pass immediately and returns the number of entries
// removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.sweepLocked(t.cfg.Now())
	metrics.OwnershipEntries.Set(float64(len(t.entries)))
	return n
}

// Len returns the number of cached entries, including not-yet-swept expired ones.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Status returns a snapshot of the tracker state.
func (t *Tracker) Status() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]interface{}{
		"entries":     len(t.entries),
		"max_entries": t.cfg.MaxEntries,
		"ttl":         t.cfg.TTL.String(),
		"fail_closed": t.cfg.FailClosed,
		"closed":      t.closed,
	}
}

// Flush drops every cached entry. Subsequent checks fall back to the store.
func (t *Tracker) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[signal.ThreadID]*entry)
	metrics.OwnershipEntries.Set(0)
}

// Close flushes the cache and stops accepting ownership writes. Authorization
// checks keep working against the store.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.entries = make(map[signal.ThreadID]*entry)
	metrics.OwnershipEntries.Set(0)
}
