package tasks

import (
	"context"

	"github.com/lysyi3m/rss-bundles/app/bundle"
	"github.com/lysyi3m/rss-bundles/app/ingest"
)

// TaskSchedulerInterface is the worker pool used by the application and the API.
//
//	scheduler := NewScheduler(deps, opts)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueTask(NewRematchBundleTask(...))
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// FeedIngestor stores and matches the items of one feed fetch
type FeedIngestor interface {
	Ingest(ctx context.Context, feedID, feedTitle, feedType string, items []ingest.FeedItem) ingest.Result
}

// HealthQueue receives advisory fetch outcomes
type HealthQueue interface {
	QueueSuccess(feedID string)
	QueueError(feedID, message string)
}

type BundleRematcher interface {
	RematchBundle(ctx context.Context, b bundle.Bundle) (int, error)
}

type CacheClearer interface {
	ClearCache(ctx context.Context, bundleID string) error
}
