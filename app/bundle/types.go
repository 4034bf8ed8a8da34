package bundle

import (
	"slices"
	"strings"
)

// Bundle is a topical collection described by bundles/<id>.yml
type Bundle struct {
	ID          string   // Derived from filename (without .yml extension)
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	SearchTerms []string `yaml:"search_terms"`
	FeedIDs     []string `yaml:"feeds"` // empty means every feed
	Priority    string   `yaml:"priority"`
	MaxAgeHours int      `yaml:"max_age_hours"` // cache staleness, 0 uses the service default
}

// IncludesFeed reports whether items from feedID are eligible for the bundle
func (b *Bundle) IncludesFeed(feedID string) bool {
	return len(b.FeedIDs) == 0 || slices.Contains(b.FeedIDs, feedID)
}

// SameCriteria reports whether two definitions match items identically.
// Priority and cache settings are ignored.
func (b *Bundle) SameCriteria(other *Bundle) bool {
	if other == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(b.Title), strings.TrimSpace(other.Title)) &&
		strings.TrimSpace(b.Description) == strings.TrimSpace(other.Description) &&
		sameSet(b.SearchTerms, other.SearchTerms) &&
		sameSet(b.FeedIDs, other.FeedIDs)
}

func sameSet(a, b []string) bool {
	return slices.Equal(normalizedSet(a), normalizedSet(b))
}

func normalizedSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
