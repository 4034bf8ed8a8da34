package api

import (
	"context"

	"github.com/lysyi3m/rss-bundles/app/activity"
	"github.com/lysyi3m/rss-bundles/app/bundle"
	"github.com/lysyi3m/rss-bundles/app/cache"
	"github.com/lysyi3m/rss-bundles/app/database"
	"github.com/lysyi3m/rss-bundles/app/feed"
	"github.com/lysyi3m/rss-bundles/app/ingest"
	"github.com/lysyi3m/rss-bundles/app/tasks"
	"github.com/lysyi3m/rss-bundles/app/tombstone"
)

type GeneratorInterface interface {
	Run(b bundle.Bundle, stories []cache.Story) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

type StoryCache interface {
	GetEntry(ctx context.Context, bundleID string, forceRefresh bool) (*cache.Entry, error)
	Manifest(ctx context.Context, bundleID string) *cache.Manifest
	ClearCache(ctx context.Context, bundleID string) error
}

var _ StoryCache = (*cache.Service)(nil)

type BundleStore interface {
	Get(id string) (*bundle.Bundle, bool)
	List() []bundle.Bundle
	Count() int
	Reload(id string) (*bundle.Bundle, bool, error)
}

var _ BundleStore = (*bundle.Store)(nil)

type Tombstones interface {
	MarkRemoved(ctx context.Context, url, bundleID, actor string) error
	ListRemoved(ctx context.Context, bundleID string) ([]string, error)
	Clear(ctx context.Context, url, bundleID string) (bool, error)
}

var _ Tombstones = (*tombstone.Store)(nil)

// Dependencies of the HTTP handlers
type Dependencies struct {
	Registry   *feed.Registry
	FeedRepo   database.FeedRepository
	Bundles    BundleStore
	Cache      StoryCache
	Tombstones Tombstones
	Ingestor   tasks.FeedIngestor
	Rematcher  tasks.BundleRematcher
	Generator  GeneratorInterface
	Scheduler  tasks.TaskSchedulerInterface
	Activity   *activity.Log
}

type Handler struct {
	registry   *feed.Registry
	feedRepo   database.FeedRepository
	bundles    BundleStore
	cache      StoryCache
	tombstones Tombstones
	ingestor   tasks.FeedIngestor
	rematcher  tasks.BundleRematcher
	generator  GeneratorInterface
	scheduler  tasks.TaskSchedulerInterface
	activity   *activity.Log
}

type removedRequest struct {
	URL   string `json:"url" binding:"required"`
	Actor string `json:"actor"`
}

type ingestRequest struct {
	Title string            `json:"title"`
	Type  string            `json:"type"`
	Items []ingest.FeedItem `json:"items" binding:"required"`
}
