package database

import (
	"context"
	"time"
)

// MaxBatchOps bounds the number of row operations sent in one transaction.
const MaxBatchOps = 500

// DefaultStoryPageSize is the page size of ListStoriesSince when none is given.
const DefaultStoryPageSize = 500

type FeedRepository interface {
	UpsertFeed(ctx context.Context, name, url, title, feedType string) error
	GetFeed(ctx context.Context, name string) (*Feed, error)
	ListFeeds(ctx context.Context) ([]Feed, error)
	GetFeedCount(ctx context.Context) (int, error)
	UpdateNextFetch(ctx context.Context, name string, fetchedAt, nextFetch time.Time) error
	ApplyHealthBatch(ctx context.Context, updates []HealthUpdate) error
}

type StoryRepository interface {
	// UpsertStories reports, per record, whether it was newly created.
	UpsertStories(ctx context.Context, records []StoryRecord) ([]bool, error)
	GetStory(ctx context.Context, id string) (*StoryRecord, error)
	ListStoriesSince(ctx context.Context, since time.Time, after StoryCursor, limit int) ([]StoryRecord, error)
	DeleteStoriesNotSeenSince(ctx context.Context, cutoff time.Time) (int64, error)
	GetStoryCount(ctx context.Context) (int, error)
}

type MatchRepository interface {
	UpsertMatch(ctx context.Context, match BundleMatch) error
	ReplaceBundleMatches(ctx context.Context, bundleID string, matches []BundleMatch) error
	ListMatches(ctx context.Context, bundleID string, limit int) ([]BundleMatch, error)
	DeleteMatchesByURL(ctx context.Context, bundleID, url string) (int64, error)
	GetMatchCount(ctx context.Context, bundleID string) (int, error)
}

type TombstoneRepository interface {
	// InsertTombstone also removes existing matches for the pair. Returns false if it already existed.
	InsertTombstone(ctx context.Context, tombstone Tombstone) (bool, error)
	IsTombstoned(ctx context.Context, url, bundleID string) (bool, error)
	ListTombstones(ctx context.Context, bundleID string) ([]Tombstone, error)
	DeleteTombstone(ctx context.Context, url, bundleID string) (bool, error)
}

type CacheRepository interface {
	// ReplaceCache swaps the manifest and all chunks of a bundle in one transaction.
	ReplaceCache(ctx context.Context, manifest CacheManifest, chunks [][]byte) error
	GetCache(ctx context.Context, bundleID string) (*CacheManifest, [][]byte, error)
	DeleteCache(ctx context.Context, bundleID string) error
}
