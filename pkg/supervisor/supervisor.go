// Package supervisor runs pipeline invocations as tracked, independently
// cancellable units of work.
//
// Every dispatched unit gets a Handle keyed by a time-sortable ULID and stays
// in the live set until it returns. Failures and panics are captured and
// reported (logger, metrics, domain event bus); they are never re-raised into
// the caller. Shutdown cancels every live unit and waits for them up to a
// grace deadline.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
	"github.com/liker0704/telegram-signals-parisng/pkg/metrics"
)

// SupervisorError is a typed error for the supervisor.
type SupervisorError string

func (e SupervisorError) Error() string { return string(e) }

const (
	ErrClosed        SupervisorError = "supervisor is shut down"
	ErrGraceExceeded SupervisorError = "tasks still running after shutdown grace period"
	ErrPanic         SupervisorError = "task panicked"
)

// Work is a unit of work. It must return promptly once ctx is cancelled.
type Work func(ctx context.Context) error

// TaskInfo is a diagnostic snapshot of a live task.
type TaskInfo struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Age       time.Duration `json:"age"`
}

// Failure describes a task that ended with an error or panic.
type Failure struct {
	TaskInfo
	Err error
}

// Handle refers to one dispatched unit of work.
type Handle struct {
	ID        ulid.ULID
	Name      string
	StartedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel asks the unit to stop. It does not wait.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed when the unit has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the unit's result. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handle) info(now time.Time) TaskInfo {
	return TaskInfo{ID: h.ID.String(), Name: h.Name, StartedAt: h.StartedAt, Age: now.Sub(h.StartedAt)}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithGracePeriod bounds how long Shutdown waits for live units when the
// shutdown context has no earlier deadline.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// WithEventBus publishes task.failed domain events to bus.
func WithEventBus(bus domain.EventBus) Option {
	return func(s *Supervisor) { s.events = bus }
}

// WithFailureHandler registers an extra callback for failed units.
func WithFailureHandler(fn func(Failure)) Option {
	return func(s *Supervisor) { s.onFailure = fn }
}

// Supervisor tracks live units of work.
type Supervisor struct {
	grace     time.Duration
	events    domain.EventBus
	onFailure func(Failure)

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	live   map[ulid.ULID]*Handle
	wg     sync.WaitGroup
	closed bool
}

// New creates a supervisor.
func New(opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		grace:  30 * time.Second,
		ctx:    ctx,
		cancel: cancel,
		live:   make(map[ulid.ULID]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch starts fn in its own goroutine and returns immediately.
func (s *Supervisor) Dispatch(name string, fn Work) (*Handle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(s.ctx)
	h := &Handle{
		ID:        ulid.Make(),
		Name:      name,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.live[h.ID] = h
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.TasksLive.Inc()
	go s.run(ctx, h, fn)
	return h, nil
}

func (s *Supervisor) run(ctx context.Context, h *Handle, fn Work) {
	defer s.wg.Done()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPanic, r)
				logger.ErrorCF("supervisor", "Task panicked", map[string]interface{}{
					"task_id": h.ID.String(),
					"task":    h.Name,
					"stack":   string(debug.Stack()),
				})
			}
		}()
		return fn(ctx)
	}()

	cancelled := errors.Is(err, context.Canceled) && ctx.Err() != nil
	h.cancel()
	s.mu.Lock()
	delete(s.live, h.ID)
	s.mu.Unlock()
	metrics.TasksLive.Dec()

	h.err = err
	switch {
	case err == nil:
	case cancelled:
		logger.DebugCF("supervisor", "Task cancelled", map[string]interface{}{
			"task_id": h.ID.String(),
			"task":    h.Name,
		})
	default:
		s.report(h, err)
	}
	close(h.done)
}

func (s *Supervisor) report(h *Handle, err error) {
	info := h.info(time.Now())
	metrics.TaskFailures.Inc()
	logger.ErrorCF("supervisor", "Task failed", map[string]interface{}{
		"task_id":  info.ID,
		"task":     info.Name,
		"duration": info.Age.String(),
		"error":    err,
	})

	if s.events != nil {
		s.events.Publish(domain.NewEvent(domain.EventTaskFailed, domain.EntityID(info.ID), map[string]interface{}{
			"task":  info.Name,
			"error": err.Error(),
		}))
	}
	if s.onFailure != nil {
		s.onFailure(Failure{TaskInfo: info, Err: err})
	}
}

// Live returns the number of units in flight.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Snapshot lists live units, oldest first.
func (s *Supervisor) Snapshot() []TaskInfo {
	now := time.Now()
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.live))
	for _, h := range s.live {
		out = append(out, h.info(now))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown stops accepting work, cancels every live unit and waits for them
// to return. It waits until ctx is done or the grace period elapses, and
// returns ErrGraceExceeded if units are still running at that point.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	pending := len(s.live)
	s.mu.Unlock()

	logger.InfoCF("supervisor", "Shutting down", map[string]interface{}{
		"live_tasks": pending,
		"grace":      s.grace.String(),
	})
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(s.grace)
	defer grace.Stop()

	select {
	case <-done:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	stuck := s.Snapshot()
	names := make([]string, 0, len(stuck))
	for _, ti := range stuck {
		names = append(names, ti.Name)
	}
	logger.ErrorCF("supervisor", "Tasks did not finish within grace period", map[string]interface{}{
		"tasks": names,
	})
	return fmt.Errorf("%w: %d still running", ErrGraceExceeded, len(stuck))
}
