package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/lysyi3m/rss-bundles/app/activity"
	"github.com/lysyi3m/rss-bundles/app/database"
)

func TestRetentionSweep(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	stories := database.NewStoryRepository(db)
	matches := database.NewMatchRepository(db)

	now := time.Now().UTC()
	records := []database.StoryRecord{
		{ID: "old", FeedID: "news", Title: "Old", URL: "https://example.com/old", PublishDate: now, FirstSeenAt: now.Add(-40 * 24 * time.Hour), LastSeenAt: now.Add(-40 * 24 * time.Hour)},
		{ID: "new", FeedID: "news", Title: "New", URL: "https://example.com/new", PublishDate: now, FirstSeenAt: now, LastSeenAt: now},
	}
	if _, err := stories.UpsertStories(ctx, records); err != nil {
		t.Fatalf("Failed to seed stories: %v", err)
	}
	err := matches.UpsertMatch(ctx, database.BundleMatch{BundleID: "b", FeedID: "news", ItemID: "old", URL: "https://example.com/old", Title: "Old", PublishDate: now, RelevanceScore: 10})
	if err != nil {
		t.Fatalf("Failed to seed match: %v", err)
	}

	log := activity.New(10)
	defer log.Close()

	retention, err := NewRetention(stories, log, 30*24*time.Hour, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	deleted, err := retention.Sweep(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted story, got %d", deleted)
	}

	if s, _ := stories.GetStory(ctx, "old"); s != nil {
		t.Error("Expected old story to be removed")
	}
	if s, _ := stories.GetStory(ctx, "new"); s == nil {
		t.Error("Expected new story to remain")
	}
	if count, _ := matches.GetMatchCount(ctx, "b"); count != 0 {
		t.Errorf("Expected matches of removed story to be deleted, got %d", count)
	}
	if len(log.RecentByLevel(activity.LevelInfo)) != 1 {
		t.Error("Expected an activity entry for the sweep")
	}
}

func TestRetentionRejectsNonPositivePeriod(t *testing.T) {
	if _, err := NewRetention(nil, nil, 0, time.Hour); err == nil {
		t.Error("Expected error for zero retention")
	}
}

func TestRetentionStartStop(t *testing.T) {
	log := activity.New(10)
	defer log.Close()

	retention, err := NewRetention(database.NewStoryRepository(newTestDB(t)), log, time.Hour, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := retention.Start(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := retention.Stop(); err != nil {
		t.Errorf("Expected clean shutdown, got: %v", err)
	}
}
