package ingest

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/time/rate"

	"github.com/lysyi3m/rss-bundles/app/activity"
	"github.com/lysyi3m/rss-bundles/app/bundle"
	"github.com/lysyi3m/rss-bundles/app/database"
	"github.com/lysyi3m/rss-bundles/app/match"
	"github.com/lysyi3m/rss-bundles/app/metrics"
)

const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = 100 * time.Millisecond
)

// BundleLister provides the current bundle definitions
type BundleLister interface {
	List() []bundle.Bundle
}

// TombstoneChecker answers whether a user removed a url from a bundle
type TombstoneChecker interface {
	IsRemoved(ctx context.Context, url, bundleID string) (bool, error)
	RemovedSet(ctx context.Context, bundleID string) (map[string]struct{}, error)
}

type Options struct {
	BatchSize  int
	BatchDelay time.Duration
}

// Ingestor deduplicates feed items into the story store and matches new ones against bundles
type Ingestor struct {
	stories    database.StoryRepository
	matches    database.MatchRepository
	tombstones TombstoneChecker
	bundles    BundleLister
	engine     *match.Engine
	searcher   *Searcher
	activity   *activity.Log
	metrics    *metrics.Metrics
	batchSize  int
	limiter    *rate.Limiter
	now        func() time.Time
}

func NewIngestor(
	stories database.StoryRepository,
	matches database.MatchRepository,
	tombstones TombstoneChecker,
	bundles BundleLister,
	engine *match.Engine,
	searcher *Searcher,
	activityLog *activity.Log,
	m *metrics.Metrics,
	opts Options,
) *Ingestor {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchSize = min(batchSize, database.MaxBatchOps)

	limit := rate.Inf
	if opts.BatchDelay > 0 {
		limit = rate.Every(opts.BatchDelay)
	}

	return &Ingestor{
		stories:    stories,
		matches:    matches,
		tombstones: tombstones,
		bundles:    bundles,
		engine:     engine,
		searcher:   searcher,
		activity:   activityLog,
		metrics:    m,
		batchSize:  batchSize,
		limiter:    rate.NewLimiter(limit, 1),
		now:        time.Now,
	}
}

// Ingest stores items of one feed. Known items only refresh their last-seen time and
// metrics; new items are matched against every bundle. Failures are isolated per chunk.
func (i *Ingestor) Ingest(ctx context.Context, feedID, feedTitle, feedType string, items []FeedItem) Result {
	// Callers that go away still get their items stored
	ctx = context.WithoutCancel(ctx)

	var result Result
	bundles := i.bundles.List()

	for start := 0; start < len(items); start += i.batchSize {
		end := min(start+i.batchSize, len(items))

		if err := i.limiter.Wait(ctx); err != nil {
			slog.Warn("Ingest pacing interrupted", "feed", feedID, "error", err)
		}

		i.ingestChunk(ctx, feedID, feedTitle, feedType, items[start:end], bundles, &result)
	}

	i.metrics.IngestedItems.WithLabelValues("saved").Add(float64(result.Saved))
	i.metrics.IngestedItems.WithLabelValues("skipped").Add(float64(result.Skipped))
	i.metrics.IngestedItems.WithLabelValues("failed").Add(float64(result.Failed))

	args := []any{"feed", feedID, "saved", result.Saved, "skipped", result.Skipped, "failed", result.Failed, "matched", result.Matched}
	if result.Failed > 0 {
		i.activity.Warning("Feed ingested with failures", args...)
	} else {
		i.activity.Success("Feed ingested", args...)
	}

	return result
}

func (i *Ingestor) ingestChunk(ctx context.Context, feedID, feedTitle, feedType string, chunk []FeedItem, bundles []bundle.Bundle, result *Result) {
	now := i.now()

	records := make([]database.StoryRecord, 0, len(chunk))

	for _, item := range chunk {
		record, ok := i.newRecord(feedID, feedTitle, feedType, item, now)
		if !ok {
			result.Failed++
			continue
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		return
	}

	created, err := i.stories.UpsertStories(ctx, records)
	if err != nil {
		result.Failed += len(records)
		i.activity.Error("Failed to store feed items", "feed", feedID, "items", len(records), "error", err.Error())
		return
	}

	for n, record := range records {
		if !created[n] {
			result.Skipped++
			continue
		}
		result.Saved++
		result.Matched += i.matchNew(ctx, record, bundles)
	}
}

func (i *Ingestor) newRecord(feedID, feedTitle, feedType string, item FeedItem, now time.Time) (database.StoryRecord, bool) {
	title := strings.TrimSpace(item.Title)
	url := strings.TrimSpace(item.URL)

	if title == "" && url == "" && strings.TrimSpace(item.GUID) == "" {
		slog.Warn("Skipping feed item without identity", "feed", feedID)
		return database.StoryRecord{}, false
	}

	return database.StoryRecord{
		ID:          Identity(feedID, url, item.GUID, title),
		FeedID:      feedID,
		FeedTitle:   feedTitle,
		FeedType:    feedType,
		GUID:        item.GUID,
		Title:       title,
		URL:         url,
		Snippet:     truncateRunes(strings.TrimSpace(cmp.Or(item.Snippet, item.Description)), maxSnippetRunes),
		Body:        matchBody(item),
		Author:      item.Author,
		Categories:  item.Categories,
		Thumbnail:   item.Thumbnail,
		Metrics:     item.Metrics,
		PublishDate: publishDate(feedID, item.PubDate, now),
		FirstSeenAt: now,
		LastSeenAt:  now,
	}, true
}

// publishDate never fails: malformed, missing and future dates become now
func publishDate(feedID, raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now
	}

	parsed, err := dateparse.ParseAny(raw)
	if err != nil {
		slog.Warn("Invalid publish date, using current time", "feed", feedID, "value", raw, "error", err)
		return now
	}

	if parsed.After(now) {
		slog.Debug("Future publish date, using current time", "feed", feedID, "value", raw)
		return now
	}

	return parsed.UTC()
}

// matchNew writes a match row for every bundle the new story qualifies for. The stored
// record is matched, so a later rematch scores the same text.
func (i *Ingestor) matchNew(ctx context.Context, record database.StoryRecord, bundles []bundle.Bundle) int {
	item := StoryItem(record)

	stored := 0
	for _, m := range i.engine.MatchItemAgainstBundles(item, bundles) {
		removed, err := i.tombstones.IsRemoved(ctx, record.URL, m.BundleID)
		if err != nil {
			i.activity.Error("Failed to check tombstone", "bundle", m.BundleID, "url", record.URL, "error", err.Error())
			continue
		}
		if removed {
			continue
		}

		if err := i.matches.UpsertMatch(ctx, NewBundleMatch(record, m)); err != nil {
			i.activity.Error("Failed to store bundle match", "bundle", m.BundleID, "item", record.ID, "error", err.Error())
			continue
		}

		stored++
		i.metrics.MatchesStored.Inc()
	}

	return stored
}

// RematchBundle rebuilds the match index of one bundle from the recent stories.
// Used when a bundle's criteria change.
func (i *Ingestor) RematchBundle(ctx context.Context, b bundle.Bundle) (int, error) {
	candidates, err := i.searcher.Search(ctx, b)
	if err != nil {
		return 0, err
	}

	removed, err := i.tombstones.RemovedSet(ctx, b.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load tombstones: %w", err)
	}

	kept := candidates[:0]
	for _, c := range candidates {
		if _, ok := removed[c.URL]; ok {
			continue
		}
		kept = append(kept, c)
	}

	if err := i.matches.ReplaceBundleMatches(ctx, b.ID, kept); err != nil {
		return 0, err
	}

	i.activity.Info("Bundle rematched", "bundle", b.ID, "matches", len(kept))

	return len(kept), nil
}
