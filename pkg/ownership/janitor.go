package ownership

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/liker0704/telegram-signals-parisng/pkg/logger"
)

// Janitor sweeps a Tracker on a fixed interval. When a cron schedule is set,
// a tick only sweeps if the schedule is due at that minute.
type Janitor struct {
	tracker  *Tracker
	interval time.Duration
	schedule string
	isDue    func(expr string, ref ...time.Time) (bool, error)
	now      func() time.Time
}

// NewJanitor creates a janitor for tracker. An empty schedule sweeps on every tick.
func NewJanitor(tracker *Tracker, interval time.Duration, schedule string) (*Janitor, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	gron := gronx.New()
	if schedule != "" && !gron.IsValid(schedule) {
		return nil, fmt.Errorf("invalid sweep schedule %q", schedule)
	}
	return &Janitor{
		tracker:  tracker,
		interval: interval,
		schedule: schedule,
		isDue:    gron.IsDue,
		now:      tracker.cfg.Now,
	}, nil
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.tick()
		}
	}
}

// tick performs one scheduled sweep. Returns the number of evicted entries.
func (j *Janitor) tick() int {
	if j.schedule != "" {
		due, err := j.isDue(j.schedule, j.now())
		if err != nil {
			logger.WarnCF("ownership", "Sweep schedule check failed", map[string]interface{}{
				"schedule": j.schedule,
				"error":    err,
			})
			return 0
		}
		if !due {
			return 0
		}
	}

	removed := j.tracker.Sweep()
	if removed > 0 {
		logger.DebugCF("ownership", "Swept ownership cache", map[string]interface{}{
			"removed": removed,
			"entries": j.tracker.Len(),
		})
	}
	return removed
}
