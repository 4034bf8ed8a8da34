package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/lysyi3m/rss-bundles/app/activity"
	"github.com/lysyi3m/rss-bundles/app/database"
)

const DefaultSweepInterval = time.Hour

// Retention periodically deletes stories that no feed has returned within the
// retention period, together with their bundle matches
type Retention struct {
	scheduler gocron.Scheduler
	stories   database.StoryRepository
	activity  *activity.Log
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewRetention(stories database.StoryRepository, activityLog *activity.Log, retention, interval time.Duration) (*Retention, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create retention scheduler: %w", err)
	}

	return &Retention{
		scheduler: scheduler,
		stories:   stories,
		activity:  activityLog,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}, nil
}

func (r *Retention) Start() error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			if _, err := r.Sweep(context.Background()); err != nil {
				slog.Error("Retention sweep failed", "error", err)
			}
		}),
		gocron.WithName("retention-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	r.scheduler.Start()
	slog.Info("Retention sweep scheduled", "retention", r.retention.String(), "interval", r.interval.String())

	return nil
}

func (r *Retention) Stop() error {
	return r.scheduler.Shutdown()
}

// Sweep runs one retention pass and returns the number of deleted stories
func (r *Retention) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-r.retention)

	deleted, err := r.stories.DeleteStoriesNotSeenSince(ctx, cutoff)
	if err != nil {
		r.activity.Error("Retention sweep failed", "error", err.Error())
		return 0, err
	}

	if deleted > 0 {
		r.activity.Info("Old stories removed", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}

	return deleted, nil
}
