package database

import (
	"time"
)

// Feed is a registered feed together with its advisory health state.
type Feed struct {
	Name              string
	URL               string
	Title             string
	FeedType          string
	LastFetchedAt     *time.Time
	NextFetchAt       *time.Time
	LastSuccessAt     *time.Time
	LastError         string
	LastErrorAt       *time.Time
	ConsecutiveErrors int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// StoryRecord is the deduplicated record of one feed item. ID is the canonical identity.
type StoryRecord struct {
	ID          string
	FeedID      string
	FeedTitle   string
	FeedType    string
	GUID        string
	Title       string
	URL         string
	Snippet     string
	Body        string // matchable description and content text
	Author      string
	Categories  []string
	Thumbnail   string
	Metrics     map[string]float64
	PublishDate time.Time
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// StoryCursor is the position of a story in the first-seen ordering of ListStoriesSince
type StoryCursor struct {
	FirstSeenAt time.Time
	ID          string
}

func (c StoryCursor) IsZero() bool {
	return c.ID == "" && c.FirstSeenAt.IsZero()
}

// Cursor returns the position after which the next page starts
func (s StoryRecord) Cursor() StoryCursor {
	return StoryCursor{FirstSeenAt: s.FirstSeenAt, ID: s.ID}
}

// BundleMatch associates a story with a bundle. Display fields are denormalized.
type BundleMatch struct {
	BundleID       string
	FeedID         string
	ItemID         string
	URL            string
	Title          string
	Snippet        string
	Thumbnail      string
	FeedTitle      string
	FeedType       string
	PublishDate    time.Time
	MatchedTerms   []string
	RelevanceScore int
	InsertedAt     time.Time
	UpdatedAt      time.Time
}

type Tombstone struct {
	StoryURL  string
	BundleID  string
	ActorID   string
	CreatedAt time.Time
}

// HealthUpdate is one coalesced per-feed status write.
type HealthUpdate struct {
	FeedID  string
	Success bool
	Message string
	At      time.Time
}

type CacheManifest struct {
	BundleID        string
	BundleTitle     string
	LastRefreshedAt time.Time
	LastAccessedAt  time.Time
	StoryCount      int
	ChunkCount      int
	SearchTerms     []string
	FeedIDs         []string
	MaxAgeHours     int
	Status          string
}
