package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryTier keeps entries in process memory
type MemoryTier struct {
	cache *gocache.Cache
}

// NewMemoryTier creates the in-process tier. Entries expire after ttl regardless of staleness.
func NewMemoryTier(ttl time.Duration) *MemoryTier {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryTier{cache: gocache.New(ttl, 10*time.Minute)}
}

func (m *MemoryTier) Name() string {
	return "memory"
}

func (m *MemoryTier) Get(_ context.Context, bundleID string) (*Entry, error) {
	cached, found := m.cache.Get(bundleID)
	if !found {
		return nil, nil
	}
	return cached.(*Entry).Clone(), nil
}

func (m *MemoryTier) Put(_ context.Context, entry *Entry) error {
	m.cache.Set(entry.Manifest.BundleID, entry.Clone(), gocache.DefaultExpiration)
	return nil
}

func (m *MemoryTier) Clear(_ context.Context, bundleID string) error {
	m.cache.Delete(bundleID)
	return nil
}

