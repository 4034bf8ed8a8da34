package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-bundles/app/bundle"
	"github.com/lysyi3m/rss-bundles/app/database"
	"github.com/lysyi3m/rss-bundles/app/match"
)

const DefaultSearchWindow = 30 * 24 * time.Hour

// Searcher scores recently ingested stories against a bundle on demand
type Searcher struct {
	stories database.StoryRepository
	engine  *match.Engine
	window   time.Duration
	pageSize int
	now      func() time.Time
}

func NewSearcher(stories database.StoryRepository, engine *match.Engine, window time.Duration) *Searcher {
	if window <= 0 {
		window = DefaultSearchWindow
	}
	return &Searcher{
		stories:  stories,
		engine:   engine,
		window:   window,
		pageSize: database.DefaultStoryPageSize,
		now:      time.Now,
	}
}

// Search returns match candidates for b among all stories first seen inside the window.
// Tombstones are not applied here.
func (s *Searcher) Search(ctx context.Context, b bundle.Bundle) ([]database.BundleMatch, error) {
	since := s.now().Add(-s.window)
	criteria := match.CompileBundle(b)

	var candidates []database.BundleMatch
	var cursor database.StoryCursor
	scanned := 0
	pageSize := max(s.pageSize, 1)

	for {
		records, err := s.stories.ListStoriesSince(ctx, since, cursor, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load recent stories: %w", err)
		}

		for _, record := range records {
			m, ok := s.engine.Evaluate(StoryItem(record), criteria)
			if !ok {
				continue
			}
			candidates = append(candidates, NewBundleMatch(record, m))
		}
		scanned += len(records)

		if len(records) < pageSize {
			break
		}
		cursor = records[len(records)-1].Cursor()
	}

	slog.Debug("Lexical search finished", "bundle", b.ID, "scanned", scanned, "candidates", len(candidates))

	return candidates, nil
}

// StoryItem exposes a stored story to the matcher
func StoryItem(s database.StoryRecord) match.Item {
	return match.Item{
		FeedID:      s.FeedID,
		FeedType:    s.FeedType,
		Title:       s.Title,
		Snippet:     s.Snippet,
		Description: s.Body,
		URL:         s.URL,
		Author:      s.Author,
		Categories:  s.Categories,
		PublishDate: s.PublishDate,
	}
}

func NewBundleMatch(s database.StoryRecord, m match.Match) database.BundleMatch {
	return database.BundleMatch{
		BundleID:       m.BundleID,
		FeedID:         s.FeedID,
		ItemID:         s.ID,
		URL:            s.URL,
		Title:          s.Title,
		Snippet:        s.Snippet,
		Thumbnail:      s.Thumbnail,
		FeedTitle:      s.FeedTitle,
		FeedType:       s.FeedType,
		PublishDate:    s.PublishDate,
		MatchedTerms:   m.MatchedTerms,
		RelevanceScore: m.Score,
	}
}
