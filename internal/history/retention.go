package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs retention once an hour.
const DefaultPruneSchedule = "@hourly"

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a cron expression ("0 */6 * * *", "@daily", "@every 30m").
func ValidateSchedule(schedule string) error {
	if _, err := scheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return nil
}

// Retention periodically deletes events older than MaxAge from every sink
// that implements Pruner. Sinks that cannot prune are skipped.
type Retention struct {
	mu        sync.Mutex
	maxAge    time.Duration
	schedule  string
	pruners   []Pruner
	scheduler *cron.Cron
	scheduled bool
	now       func() time.Time
	log       *slog.Logger
}

// NewRetention prepares a retention job. It does not run until Start.
func NewRetention(schedule string, maxAge time.Duration, sinks []Sink, log *slog.Logger) (*Retention, error) {
	if maxAge <= 0 {
		return nil, errors.New("retention must be positive")
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if err := ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Retention{
		maxAge:    maxAge,
		schedule:  schedule,
		scheduler: cron.New(cron.WithParser(scheduleParser)),
		now:       time.Now,
		log:       log,
	}
	for _, s := range sinks {
		if p, ok := s.(Pruner); ok {
			r.pruners = append(r.pruners, p)
		} else {
			log.Debug("History sink does not support pruning", "sink", fmt.Sprintf("%T", s))
		}
	}
	return r, nil
}

// Prunable reports how many sinks the job will prune.
func (r *Retention) Prunable() int { return len(r.pruners) }

// Start schedules pruning. Calling Start twice is an error.
func (r *Retention) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduled {
		return errors.New("retention already scheduled")
	}
	if _, err := r.scheduler.AddFunc(r.schedule, r.run); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}
	r.scheduler.Start()
	r.scheduled = true
	r.log.Info("History retention scheduled", "schedule", r.schedule, "max_age", r.maxAge, "sinks", len(r.pruners))
	return nil
}

// Stop unschedules pruning and waits for a running prune to finish.
func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.scheduled {
		return
	}
	<-r.scheduler.Stop().Done()
	r.scheduled = false
}

func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := r.PruneNow(ctx); err != nil {
		r.log.Warn("History prune failed", "error", err)
	}
}

// PruneNow deletes events older than MaxAge from every prunable sink and
// returns the total removed. All sinks are attempted even when one fails.
func (r *Retention) PruneNow(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	var (
		total int64
		errs  []error
	)
	for _, p := range r.pruners {
		n, err := p.Prune(ctx, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	if total > 0 {
		r.log.Info("Pruned heartbeat history", "removed", total, "before", cutoff)
	}
	return total, errors.Join(errs...)
}
