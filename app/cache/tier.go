package cache

import "context"

// Tier is one level of the story cache. Get returns nil, nil on a miss.
type Tier interface {
	Name() string
	Get(ctx context.Context, bundleID string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	Clear(ctx context.Context, bundleID string) error
}

// Evictor is a capacity-bounded tier that can make room by dropping its
// least recently accessed bundles
type Evictor interface {
	EvictOldest(ctx context.Context) (int, error)
}
