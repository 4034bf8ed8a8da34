package tombstone

import (
	"context"
	"fmt"
	"strings"

	"github.com/lysyi3m/rss-bundles/app/activity"
	"github.com/lysyi3m/rss-bundles/app/database"
)

// Store records stories a user removed from a bundle so they never come back
type Store struct {
	repo     database.TombstoneRepository
	activity *activity.Log
}

func NewStore(repo database.TombstoneRepository, activityLog *activity.Log) *Store {
	return &Store{repo: repo, activity: activityLog}
}

// MarkRemoved tombstones url for bundleID and drops any existing match for the pair.
// Marking an already removed url is a no-op.
func (s *Store) MarkRemoved(ctx context.Context, url, bundleID, actor string) error {
	url = strings.TrimSpace(url)
	if url == "" || bundleID == "" {
		return fmt.Errorf("url and bundle id are required")
	}

	created, err := s.repo.InsertTombstone(ctx, database.Tombstone{
		StoryURL: url,
		BundleID: bundleID,
		ActorID:  actor,
	})
	if err != nil {
		return fmt.Errorf("failed to mark story removed: %w", err)
	}

	if created {
		s.activity.Info("Story removed from bundle", "bundle", bundleID, "url", url, "actor", actor)
	}

	return nil
}

func (s *Store) IsRemoved(ctx context.Context, url, bundleID string) (bool, error) {
	if url == "" {
		return false, nil
	}
	return s.repo.IsTombstoned(ctx, strings.TrimSpace(url), bundleID)
}

// ListRemoved returns the removed urls of a bundle, oldest first
func (s *Store) ListRemoved(ctx context.Context, bundleID string) ([]string, error) {
	tombstones, err := s.repo.ListTombstones(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(tombstones))
	for _, t := range tombstones {
		urls = append(urls, t.StoryURL)
	}
	return urls, nil
}

// RemovedSet returns the removed urls of a bundle for filtering
func (s *Store) RemovedSet(ctx context.Context, bundleID string) (map[string]struct{}, error) {
	urls, err := s.ListRemoved(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return set, nil
}

// Clear lifts a tombstone. The story becomes eligible again on the next match or rebuild.
func (s *Store) Clear(ctx context.Context, url, bundleID string) (bool, error) {
	deleted, err := s.repo.DeleteTombstone(ctx, strings.TrimSpace(url), bundleID)
	if err != nil {
		return false, fmt.Errorf("failed to clear tombstone: %w", err)
	}

	if deleted {
		s.activity.Info("Story restored to bundle", "bundle", bundleID, "url", url)
	}

	return deleted, nil
}
