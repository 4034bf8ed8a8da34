package feed

import (
	"testing"
)

func testItems() []Item {
	return []Item{
		{Title: "Technology News Today", Description: "Latest in tech", Authors: []string{"alice"}, Categories: []string{"Tech"}},
		{Title: "Sports Update", Description: "Game results", Authors: []string{"bob"}, Categories: []string{"Sports"}},
		{Title: "Tech Spam Offer", Description: "Buy now", Authors: []string{"spammer"}, Categories: []string{"Tech"}},
	}
}

func titles(items []Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Title
	}
	return out
}

func TestFilterer_NoFilters(t *testing.T) {
	items := testItems()
	kept := NewFilterer().Run(items, &Config{Name: "test"})

	if len(kept) != len(items) {
		t.Errorf("Expected all %d items, got %d", len(items), len(kept))
	}
}

func TestFilterer_IncludeAndExclude(t *testing.T) {
	config := &Config{
		Name: "test",
		Filters: []ConfigFilter{
			{Field: "title", Includes: []string{"tech"}, Excludes: []string{"spam"}},
		},
	}

	kept := NewFilterer().Run(testItems(), config)

	if len(kept) != 1 || kept[0].Title != "Technology News Today" {
		t.Errorf("Expected only 'Technology News Today', got %v", titles(kept))
	}
}

func TestFilterer_MultipleFields(t *testing.T) {
	config := &Config{
		Name: "test",
		Filters: []ConfigFilter{
			{Field: "categories", Includes: []string{"tech"}},
			{Field: "authors", Excludes: []string{"SPAMMER"}},
		},
	}

	kept := NewFilterer().Run(testItems(), config)

	if len(kept) != 1 || kept[0].Title != "Technology News Today" {
		t.Errorf("Expected only 'Technology News Today', got %v", titles(kept))
	}
}

func TestFilterer_UnknownFieldExcludesOnInclude(t *testing.T) {
	config := &Config{
		Name:    "test",
		Filters: []ConfigFilter{{Field: "unknown", Includes: []string{"anything"}}},
	}

	kept := NewFilterer().Run(testItems(), config)
	if len(kept) != 0 {
		t.Errorf("Expected no items, got %v", titles(kept))
	}
}

func TestFilterer_GetFieldValue(t *testing.T) {
	f := NewFilterer()
	item := Item{
		Title:       "Title",
		Description: "Description",
		Content:     "Content",
		Link:        "https://example.com",
		Authors:     []string{"a", "b"},
		Categories:  []string{"x", "y"},
	}

	tests := map[string]string{
		"title":       "Title",
		"description": "Description",
		"content":     "Content",
		"link":        "https://example.com",
		"authors":     "a b",
		"categories":  "x y",
		"other":       "",
	}

	for field, expected := range tests {
		if got := f.getFieldValue(item, field); got != expected {
			t.Errorf("Field %s: expected %q, got %q", field, expected, got)
		}
	}
}
