package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-bundles/app/bundle"
)

// RematchBundleTask re-scores recent stories against a changed bundle and
// replaces its match index rows
type RematchBundleTask struct {
	Task
	Bundle    bundle.Bundle
	rematcher BundleRematcher
	cache     CacheClearer
}

func NewRematchBundleTask(b bundle.Bundle, rematcher BundleRematcher, cache CacheClearer) *RematchBundleTask {
	return &RematchBundleTask{
		Task:      NewTask(TaskTypeRematchBundle, b.ID),
		Bundle:    b,
		rematcher: rematcher,
		cache:     cache,
	}
}

func (t *RematchBundleTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	matched, err := t.rematcher.RematchBundle(ctx, t.Bundle)
	if err != nil {
		return fmt.Errorf("failed to rematch bundle: %w", err)
	}

	// Entries built from the old index while the task was queued
	if t.cache != nil {
		if err := t.cache.ClearCache(ctx, t.Bundle.ID); err != nil {
			slog.Warn("Failed to clear bundle cache after rematch", "bundle", t.Bundle.ID, "error", err)
		}
	}

	slog.Info("Task completed",
		"type", "RematchBundle",
		"bundle", t.Target,
		"duration", t.GetDuration(),
		"matched", matched)

	return nil
}
