package journal

import (
	"context"
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/neboloop/browser-agent/internal/logging"
)

// Pruner deletes journal entries older than the retention window on a cron schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	scheduler *cronlib.Cron
	now       func() time.Time
}

// NewPruner schedules pruning with a standard five-field cron expression.
func NewPruner(store *Store, retention time.Duration, schedule string) (*Pruner, error) {
	p := &Pruner{
		store:     store,
		retention: retention,
		scheduler: cronlib.New(),
		now:       time.Now,
	}
	if _, err := p.scheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := p.RunOnce(ctx); err != nil {
			logging.Warnf("[Journal] prune failed: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start begins the schedule.
func (p *Pruner) Start() {
	p.scheduler.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.scheduler.Stop().Done()
}

// RunOnce removes every entry older than the retention window.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	n, err := p.store.Prune(ctx, p.now().Add(-p.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Infof("[Journal] pruned %d entries", n)
	}
	return n, nil
}
