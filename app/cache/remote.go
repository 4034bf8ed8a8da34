package cache

import (
	"context"
	"fmt"

	"github.com/lysyi3m/rss-bundles/app/database"
)

// RemoteTier persists entries as a manifest plus size-bounded chunks in the durable store
type RemoteTier struct {
	repo database.CacheRepository
}

func NewRemoteTier(repo database.CacheRepository) *RemoteTier {
	return &RemoteTier{repo: repo}
}

func (r *RemoteTier) Name() string {
	return "remote"
}

func (r *RemoteTier) Get(ctx context.Context, bundleID string) (*Entry, error) {
	manifest, chunks, err := r.repo.GetCache(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, nil
	}

	stories, err := Unpack(chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote entry %s: %w", bundleID, err)
	}

	return &Entry{Manifest: fromRecord(*manifest), Stories: stories}, nil
}

func (r *RemoteTier) Put(ctx context.Context, entry *Entry) error {
	chunks, err := Pack(entry.Stories, MaxChunkItems, MaxChunkBytes)
	if err != nil {
		return err
	}

	record := toRecord(entry.Manifest)
	record.ChunkCount = len(chunks)

	return r.repo.ReplaceCache(ctx, record, chunks)
}

func (r *RemoteTier) Clear(ctx context.Context, bundleID string) error {
	return r.repo.DeleteCache(ctx, bundleID)
}

func toRecord(m Manifest) database.CacheManifest {
	return database.CacheManifest{
		BundleID:        m.BundleID,
		BundleTitle:     m.BundleTitle,
		LastRefreshedAt: m.LastRefreshedAt,
		LastAccessedAt:  m.LastAccessedAt,
		StoryCount:      m.StoryCount,
		ChunkCount:      m.ChunkCount,
		SearchTerms:     m.SearchTerms,
		FeedIDs:         m.FeedIDs,
		MaxAgeHours:     m.MaxAgeHours,
		Status:          m.Status,
	}
}

func fromRecord(r database.CacheManifest) Manifest {
	return Manifest{
		BundleID:        r.BundleID,
		BundleTitle:     r.BundleTitle,
		LastRefreshedAt: r.LastRefreshedAt,
		LastAccessedAt:  r.LastAccessedAt,
		StoryCount:      r.StoryCount,
		ChunkCount:      r.ChunkCount,
		SearchTerms:     r.SearchTerms,
		FeedIDs:         r.FeedIDs,
		MaxAgeHours:     r.MaxAgeHours,
		Status:          r.Status,
	}
}
