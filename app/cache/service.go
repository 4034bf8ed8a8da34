package cache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lysyi3m/rss-bundles/app/activity"
	"github.com/lysyi3m/rss-bundles/app/bundle"
	"github.com/lysyi3m/rss-bundles/app/database"
	"github.com/lysyi3m/rss-bundles/app/metrics"
)

// BundleSource resolves bundle definitions
type BundleSource interface {
	Get(id string) (*bundle.Bundle, bool)
}

// MatchSource reads the bundle match index
type MatchSource interface {
	ListMatches(ctx context.Context, bundleID string, limit int) ([]database.BundleMatch, error)
}

// Searcher finds match candidates among recently ingested stories
type Searcher interface {
	Search(ctx context.Context, b bundle.Bundle) ([]database.BundleMatch, error)
}

// RemovedSource lists the tombstoned urls of a bundle
type RemovedSource interface {
	RemovedSet(ctx context.Context, bundleID string) (map[string]struct{}, error)
}

type Options struct {
	MaxAgeHours int
	MatchLimit  int
}

// Service serves bundle story lists through a chain of tiers, fastest first.
// Concurrent misses for one bundle share a single refill.
type Service struct {
	tiers       []Tier
	bundles     BundleSource
	matches     MatchSource
	searcher    Searcher
	tombstones  RemovedSource
	activity    *activity.Log
	metrics     *metrics.Metrics
	maxAgeHours int
	matchLimit  int
	now         func() time.Time

	inflight singleflight.Group

	// bumped by ClearCache so a refill started earlier does not write back
	mu          sync.Mutex
	generations map[string]uint64
	// held across a bundle's tier writes and its clear
	writeLocks map[string]*sync.Mutex
}

func NewService(
	tiers []Tier,
	bundles BundleSource,
	matches MatchSource,
	searcher Searcher,
	tombstones RemovedSource,
	activityLog *activity.Log,
	m *metrics.Metrics,
	opts Options,
) *Service {
	return &Service{
		tiers:       tiers,
		bundles:     bundles,
		matches:     matches,
		searcher:    searcher,
		tombstones:  tombstones,
		activity:    activityLog,
		metrics:     m,
		maxAgeHours: cmp.Or(opts.MaxAgeHours, DefaultMaxAgeHours),
		matchLimit:  cmp.Or(opts.MatchLimit, 1000),
		now:         time.Now,
		generations: make(map[string]uint64),
		writeLocks:  make(map[string]*sync.Mutex),
	}
}

// GetStories returns the cached stories of a bundle, rebuilding them on a miss or
// when forceRefresh is set. A stale entry is served with a warning.
func (s *Service) GetStories(ctx context.Context, bundleID string, forceRefresh bool) ([]Story, error) {
	entry, err := s.GetEntry(ctx, bundleID, forceRefresh)
	if err != nil {
		return nil, err
	}
	return entry.Stories, nil
}

// GetEntry is GetStories together with the manifest of the entry that was served
func (s *Service) GetEntry(ctx context.Context, bundleID string, forceRefresh bool) (*Entry, error) {
	b, ok := s.bundles.Get(bundleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, bundleID)
	}

	if !forceRefresh {
		if entry := s.lookup(ctx, bundleID); entry != nil {
			s.warnIfStale(entry)
			return s.visible(ctx, entry)
		}
		s.metrics.CacheMisses.Inc()
	}

	entry, err := s.refillOnce(ctx, *b, forceRefresh)
	if err != nil {
		return nil, err
	}

	return s.visible(ctx, entry)
}

// Manifest returns the manifest of the fastest tier holding the bundle, nil if none does
func (s *Service) Manifest(ctx context.Context, bundleID string) *Manifest {
	if entry := s.lookup(ctx, bundleID); entry != nil {
		return &entry.Manifest
	}
	return nil
}

// ClearCache removes the bundle from every tier
func (s *Service) ClearCache(ctx context.Context, bundleID string) error {
	lock := s.writeLock(bundleID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	s.generations[bundleID]++
	s.mu.Unlock()

	var errs []error
	for _, tier := range s.tiers {
		if err := tier.Clear(ctx, bundleID); err != nil {
			errs = append(errs, fmt.Errorf("%s tier: %w", tier.Name(), err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.activity.Error("Failed to clear bundle cache", "bundle", bundleID, "error", err.Error())
		return err
	}

	s.activity.Info("Bundle cache cleared", "bundle", bundleID)
	return nil
}

// lookup walks the tiers and back-fills the faster ones on a hit
func (s *Service) lookup(ctx context.Context, bundleID string) *Entry {
	generation := s.generation(bundleID)

	for i, tier := range s.tiers {
		entry, err := tier.Get(ctx, bundleID)
		if err != nil {
			s.activity.Warning("Cache tier read failed", "tier", tier.Name(), "bundle", bundleID, "error", err.Error())
			continue
		}
		if entry == nil {
			continue
		}

		s.metrics.CacheHits.WithLabelValues(tier.Name()).Inc()
		entry.Manifest.LastAccessedAt = s.now()

		s.writeThrough(ctx, s.tiers[:i], entry, generation)
		return entry
	}
	return nil
}

func (s *Service) refillOnce(ctx context.Context, b bundle.Bundle, forceRefresh bool) (*Entry, error) {
	v, err, _ := s.inflight.Do(b.ID, func() (any, error) {
		// A refill that finished while this call was queued already filled memory
		if !forceRefresh && len(s.tiers) > 0 {
			if entry, err := s.tiers[0].Get(ctx, b.ID); err == nil && entry != nil {
				return entry, nil
			}
		}
		return s.refill(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry).Clone(), nil
}

func (s *Service) refill(ctx context.Context, b bundle.Bundle) (*Entry, error) {
	// Callers that give up still get the cache populated
	ctx = context.WithoutCancel(ctx)
	started := s.now()
	generation := s.generation(b.ID)
	s.metrics.CacheRefills.Inc()

	indexed, err := s.matches.ListMatches(ctx, b.ID, s.matchLimit)
	if err != nil {
		s.activity.Error("Failed to read bundle matches", "bundle", b.ID, "error", err.Error())
		return nil, fmt.Errorf("failed to read matches of bundle %s: %w", b.ID, err)
	}

	var searched []database.BundleMatch
	if s.searcher != nil {
		searched, err = s.searcher.Search(ctx, b)
		if err != nil {
			s.activity.Warning("Lexical search failed, using match index only", "bundle", b.ID, "error", err.Error())
		}
	}

	removed, err := s.tombstones.RemovedSet(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read tombstones of bundle %s: %w", b.ID, err)
	}

	stories := project(merge(indexed, searched), removed)

	now := s.now()
	entry := &Entry{
		Manifest: Manifest{
			BundleID:        b.ID,
			BundleTitle:     b.Title,
			LastRefreshedAt: now,
			LastAccessedAt:  now,
			StoryCount:      len(stories),
			SearchTerms:     slices.Clone(b.SearchTerms),
			FeedIDs:         slices.Clone(b.FeedIDs),
			MaxAgeHours:     cmp.Or(b.MaxAgeHours, s.maxAgeHours),
			Status:          StatusActive,
		},
		Stories: stories,
	}

	if !s.writeThrough(ctx, s.tiers, entry, generation) {
		s.activity.Info("Bundle cache cleared during rebuild, result not stored", "bundle", b.ID)
	}

	s.metrics.RefillDuration.Observe(s.now().Sub(started).Seconds())
	s.activity.Success("Bundle cache rebuilt", "bundle", b.ID, "stories", len(stories),
		"indexed", len(indexed), "searched", len(searched))

	return entry, nil
}

// writeThrough stores entry in tiers unless the bundle was cleared since generation
// was read. ClearCache cannot run while the writes are in progress.
func (s *Service) writeThrough(ctx context.Context, tiers []Tier, entry *Entry, generation uint64) bool {
	if len(tiers) == 0 {
		return true
	}
	bundleID := entry.Manifest.BundleID

	lock := s.writeLock(bundleID)
	lock.Lock()
	defer lock.Unlock()

	if s.generation(bundleID) != generation {
		return false
	}
	for _, tier := range tiers {
		s.put(ctx, tier, entry)
	}
	return true
}

func (s *Service) writeLock(bundleID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.writeLocks[bundleID]
	if !ok {
		lock = &sync.Mutex{}
		s.writeLocks[bundleID] = lock
	}
	return lock
}

func (s *Service) generation(bundleID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[bundleID]
}

// put writes to one tier. A full capacity-bounded tier evicts its oldest half and
// is retried once; remaining failures are only logged.
func (s *Service) put(ctx context.Context, tier Tier, entry *Entry) {
	err := tier.Put(ctx, entry)

	if errors.Is(err, ErrQuotaExceeded) {
		if evictor, ok := tier.(Evictor); ok {
			evicted, evictErr := evictor.EvictOldest(ctx)
			if evictErr != nil {
				s.activity.Warning("Cache eviction failed", "tier", tier.Name(), "error", evictErr.Error())
			}
			s.metrics.LocalEvictions.Add(float64(evicted))
			s.activity.Warning("Cache tier full, evicted oldest bundles", "tier", tier.Name(), "evicted", evicted)
			err = tier.Put(ctx, entry)
		}
	}

	if err != nil {
		s.activity.Warning("Cache tier write failed", "tier", tier.Name(), "bundle", entry.Manifest.BundleID, "error", err.Error())
	}
}

func (s *Service) warnIfStale(entry *Entry) {
	if entry.Fresh(s.now()) {
		return
	}
	s.metrics.StaleReads.Inc()
	s.activity.Warning("Serving stale bundle cache", "bundle", entry.Manifest.BundleID,
		"age_hours", int(s.now().Sub(entry.Manifest.LastRefreshedAt).Hours()),
		"max_age_hours", entry.Manifest.MaxAgeHours)
}

// visible drops stories tombstoned after the entry was built
func (s *Service) visible(ctx context.Context, entry *Entry) (*Entry, error) {
	removed, err := s.tombstones.RemovedSet(ctx, entry.Manifest.BundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to read tombstones of bundle %s: %w", entry.Manifest.BundleID, err)
	}

	stories := make([]Story, 0, len(entry.Stories))
	for _, story := range entry.Stories {
		if _, ok := removed[story.URL]; ok {
			continue
		}
		stories = append(stories, story)
	}

	manifest := entry.Manifest
	manifest.StoryCount = len(stories)
	return &Entry{Manifest: manifest, Stories: stories}, nil
}

// merge unions index matches with search candidates by url; index rows win
func merge(indexed, searched []database.BundleMatch) []database.BundleMatch {
	seen := make(map[string]bool, len(indexed)+len(searched))
	merged := make([]database.BundleMatch, 0, len(indexed)+len(searched))

	for _, group := range [][]database.BundleMatch{indexed, searched} {
		for _, m := range group {
			key := cmp.Or(m.URL, m.ItemID)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, m)
		}
	}

	slices.SortStableFunc(merged, compareMatches)
	return merged
}

// compareMatches orders by score, then newest publish date, then item id
func compareMatches(a, b database.BundleMatch) int {
	if c := cmp.Compare(b.RelevanceScore, a.RelevanceScore); c != 0 {
		return c
	}
	if c := b.PublishDate.Compare(a.PublishDate); c != 0 {
		return c
	}
	return strings.Compare(a.ItemID, b.ItemID)
}

func project(matches []database.BundleMatch, removed map[string]struct{}) []Story {
	stories := make([]Story, 0, len(matches))
	for _, m := range matches {
		if _, ok := removed[m.URL]; ok {
			continue
		}
		stories = append(stories, Story{
			ID:             m.ItemID,
			URL:            m.URL,
			Title:          m.Title,
			Description:    m.Snippet,
			Thumbnail:      m.Thumbnail,
			SourceType:     m.FeedType,
			SourceName:     m.FeedTitle,
			PublishedAt:    m.PublishDate,
			RelevanceScore: m.RelevanceScore,
			Order:          len(stories),
		})
	}
	return stories
}
