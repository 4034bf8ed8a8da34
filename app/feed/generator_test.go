package feed

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/rss-bundles/app/bundle"
	"github.com/lysyi3m/rss-bundles/app/cache"
)

func testBundle() bundle.Bundle {
	return bundle.Bundle{
		ID:          "senate",
		Title:       "US Senate",
		Description: "Senate floor & committee news",
		SearchTerms: []string{"senate"},
	}
}

func TestGenerateBundleRSS(t *testing.T) {
	generator := NewGenerator("https://bundles.example.com/", "8080", "1.2.0")

	published := time.Date(2026, 7, 3, 10, 0, 0, 0, time.UTC)
	stories := []cache.Story{
		{
			ID:             "id-1",
			URL:            "https://example.com/a",
			Title:          "Senate passes <budget>",
			Description:    "Vote details",
			Thumbnail:      "https://example.com/a.jpg",
			SourceType:     "rss",
			SourceName:     "Example News",
			PublishedAt:    published,
			RelevanceScore: 48,
		},
		{
			ID:          "id-2",
			Title:       "Untitled link",
			PublishedAt: published.Add(-time.Hour),
		},
	}

	rss, err := generator.Run(testBundle(), stories)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	checks := []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<title>US Senate</title>`,
		`<description>Senate floor &amp; committee news</description>`,
		`<atom:link href="https://bundles.example.com/bundles/senate/feed.xml" rel="self" type="application/rss+xml" />`,
		`<generator>RSS-Bundles/1.2.0</generator>`,
		`<lastBuildDate>Fri, 03 Jul 2026 10:00:00 +0000</lastBuildDate>`,
		`<guid isPermaLink="true">https://example.com/a</guid>`,
		`<title>Senate passes &lt;budget&gt;</title>`,
		`<media:thumbnail url="https://example.com/a.jpg" />`,
		`<category>Example News</category>`,
		`<guid isPermaLink="false">id-2</guid>`,
		`<description>No description available</description>`,
	}
	for _, check := range checks {
		if !strings.Contains(rss, check) {
			t.Errorf("RSS should contain %s", check)
		}
	}

	if strings.Index(rss, "id-2") < strings.Index(rss, "https://example.com/a</guid>") {
		t.Error("Stories should keep their cached order")
	}

	var doc struct {
		Channel struct {
			Items []struct {
				Title string `xml:"title"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal([]byte(rss), &doc); err != nil {
		t.Fatalf("Generated RSS is not valid XML: %v", err)
	}
	if len(doc.Channel.Items) != 2 {
		t.Errorf("Expected 2 items, got %d", len(doc.Channel.Items))
	}
}

func TestGenerateWithEmptyStories(t *testing.T) {
	generator := NewGenerator("", "9000", "dev")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	generator.now = func() time.Time { return fixed }

	b := testBundle()
	b.Description = ""

	rss, err := generator.Run(b, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(rss, `href="http://localhost:9000/bundles/senate/feed.xml"`) {
		t.Error("Expected localhost self link when no base URL is set")
	}
	if !strings.Contains(rss, "<description>Stories matching US Senate</description>") {
		t.Error("Expected generated channel description")
	}
	if !strings.Contains(rss, "<lastBuildDate>Fri, 02 Jan 2026 03:04:05 +0000</lastBuildDate>") {
		t.Error("Expected current time as last build date")
	}
	if strings.Contains(rss, "<item>") {
		t.Error("Expected no items")
	}
}

func TestIsURLMethod(t *testing.T) {
	g := NewGenerator("", "8080", "dev")

	tests := map[string]bool{
		"https://example.com": true,
		"http://example.com":  true,
		"urn:uuid:1234":       false,
		"item-1":              false,
		"":                    false,
	}
	for input, expected := range tests {
		if got := g.isURL(input); got != expected {
			t.Errorf("isURL(%q) = %v, expected %v", input, got, expected)
		}
	}
}
