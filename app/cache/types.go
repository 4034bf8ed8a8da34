package cache

import (
	"errors"
	"slices"
	"time"
)

var (
	// ErrQuotaExceeded is returned by a tier that has no room left for an entry
	ErrQuotaExceeded  = errors.New("cache quota exceeded")
	ErrBundleNotFound = errors.New("bundle not found")
)

// Manifest statuses
const (
	StatusActive     = "active"
	StatusRefreshing = "refreshing"
	StatusError      = "error"
)

const DefaultMaxAgeHours = 168

// Story is the lightweight projection of a matched story served to callers
type Story struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Thumbnail      string    `json:"thumbnail,omitempty"`
	SourceType     string    `json:"source_type"`
	SourceName     string    `json:"source_name"`
	PublishedAt    time.Time `json:"published_at"`
	RelevanceScore int       `json:"relevance_score"`
	Order          int       `json:"order"`
}

// Manifest summarizes one bundle's cached result set
type Manifest struct {
	BundleID        string    `json:"bundle_id"`
	BundleTitle     string    `json:"bundle_title"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
	LastAccessedAt  time.Time `json:"last_accessed_at"`
	StoryCount      int       `json:"story_count"`
	ChunkCount      int       `json:"chunk_count"`
	SearchTerms     []string  `json:"search_terms"`
	FeedIDs         []string  `json:"feed_ids"`
	MaxAgeHours     int       `json:"max_age_hours"`
	Status          string    `json:"status"`
}

// Entry is what every tier stores for a bundle
type Entry struct {
	Manifest Manifest `json:"manifest"`
	Stories  []Story  `json:"stories"`
}

// Fresh reports whether the result set is within its max age at now. A zero max age
// means DefaultMaxAgeHours.
func (m Manifest) Fresh(now time.Time) bool {
	maxAge := m.MaxAgeHours
	if maxAge <= 0 {
		maxAge = DefaultMaxAgeHours
	}
	return now.Sub(m.LastRefreshedAt) <= time.Duration(maxAge)*time.Hour
}

func (e *Entry) Fresh(now time.Time) bool {
	return e.Manifest.Fresh(now)
}

// Clone returns a copy whose slices are not shared with e
func (e *Entry) Clone() *Entry {
	c := *e
	c.Stories = slices.Clone(e.Stories)
	c.Manifest.SearchTerms = slices.Clone(e.Manifest.SearchTerms)
	c.Manifest.FeedIDs = slices.Clone(e.Manifest.FeedIDs)
	return &c
}
