package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFeedConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryLoadValidConfig(t *testing.T) {
	tempDir := t.TempDir()
	writeFeedConfig(t, tempDir, "hn", `
url: "https://news.ycombinator.com/rss"
type: "HackerNews"
title: "Hacker News"

settings:
  enabled: true
  refresh_interval: 1800
  max_items: 25
  timeout: 15
  extract_content: true

filters:
  - field: "title"
    excludes:
      - "hiring"
`)

	registry := NewRegistry(tempDir)
	if err := registry.Run(); err != nil {
		t.Fatal(err)
	}

	if registry.Count() != 1 {
		t.Errorf("Expected 1 config, got %d", registry.Count())
	}

	config, ok := registry.Get("hn")
	if !ok {
		t.Fatal("Expected config 'hn' to be registered")
	}
	if config.Name != "hn" {
		t.Errorf("Expected name 'hn', got '%s'", config.Name)
	}
	if config.Type != "hackernews" {
		t.Errorf("Expected lowercased type 'hackernews', got '%s'", config.Type)
	}
	if config.Title != "Hacker News" {
		t.Errorf("Expected title 'Hacker News', got '%s'", config.Title)
	}
	if config.Settings.RefreshInterval != 1800 || config.Settings.MaxItems != 25 || config.Settings.Timeout != 15 {
		t.Errorf("Unexpected settings: %+v", config.Settings)
	}
	if !config.Settings.ExtractContent {
		t.Error("Expected extract_content to be enabled")
	}
	if len(config.Filters) != 1 {
		t.Errorf("Expected 1 filter, got %d", len(config.Filters))
	}
}

func TestRegistryDefaults(t *testing.T) {
	tempDir := t.TempDir()
	writeFeedConfig(t, tempDir, "minimal", `url: "https://example.com/feed.xml"`)

	registry := NewRegistry(tempDir)
	if err := registry.Run(); err != nil {
		t.Fatal(err)
	}

	config, _ := registry.Get("minimal")
	if config.Type != DefaultType {
		t.Errorf("Expected default type %s, got %s", DefaultType, config.Type)
	}
	if config.Title != "" {
		t.Errorf("Expected empty title, got %s", config.Title)
	}
	if config.Settings.RefreshInterval != 3600 {
		t.Errorf("Expected default refresh interval 3600, got %d", config.Settings.RefreshInterval)
	}
	if config.Settings.MaxItems != 100 {
		t.Errorf("Expected default max items 100, got %d", config.Settings.MaxItems)
	}
	if config.Settings.Timeout != 30 {
		t.Errorf("Expected default timeout 30, got %d", config.Settings.Timeout)
	}
	if config.Settings.Enabled {
		t.Error("Expected feed to be disabled by default")
	}
}

func TestRegistryInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{"missing-url", `title: "No URL"`, "URL is required"},
		{"negative", "url: \"https://example.com\"\nsettings:\n  timeout: -1", "timeout must be non-negative"},
		{"bad-field", "url: \"https://example.com\"\nfilters:\n  - field: \"body\"\n    includes: [\"x\"]", "invalid filter field"},
		{"empty-filter", "url: \"https://example.com\"\nfilters:\n  - field: \"title\"", "at least one include or exclude"},
		{"bad-yaml", "url: [unclosed", "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			writeFeedConfig(t, tempDir, tt.name, tt.content)

			err := NewRegistry(tempDir).Run()
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("Expected error containing %q, got: %v", tt.errPart, err)
			}
		})
	}
}

func TestRegistryMissingDirectory(t *testing.T) {
	registry := NewRegistry(filepath.Join(t.TempDir(), "missing"))
	if err := registry.Run(); err != nil {
		t.Errorf("Expected no error for missing directory, got: %v", err)
	}
	if registry.Count() != 0 {
		t.Errorf("Expected no configs, got %d", registry.Count())
	}
}

func TestRegistryListAndEnabled(t *testing.T) {
	tempDir := t.TempDir()
	writeFeedConfig(t, tempDir, "b-feed", "url: \"https://b.example.com\"\nsettings:\n  enabled: true")
	writeFeedConfig(t, tempDir, "a-feed", "url: \"https://a.example.com\"\nsettings:\n  enabled: true")
	writeFeedConfig(t, tempDir, "c-feed", "url: \"https://c.example.com\"")

	registry := NewRegistry(tempDir)
	if err := registry.Run(); err != nil {
		t.Fatal(err)
	}

	all := registry.List()
	if len(all) != 3 || all[0].Name != "a-feed" || all[2].Name != "c-feed" {
		t.Errorf("Expected configs sorted by name, got %d configs", len(all))
	}

	enabled := registry.Enabled()
	if len(enabled) != 2 {
		t.Fatalf("Expected 2 enabled configs, got %d", len(enabled))
	}
	if enabled[0].Name != "a-feed" || enabled[1].Name != "b-feed" {
		t.Errorf("Unexpected enabled configs: %s, %s", enabled[0].Name, enabled[1].Name)
	}
}

func TestRegistryReload(t *testing.T) {
	tempDir := t.TempDir()
	writeFeedConfig(t, tempDir, "feed", `url: "https://old.example.com"`)

	registry := NewRegistry(tempDir)
	if err := registry.Run(); err != nil {
		t.Fatal(err)
	}

	writeFeedConfig(t, tempDir, "feed", `url: "https://new.example.com"`)
	if _, err := registry.Load("feed"); err != nil {
		t.Fatal(err)
	}

	config, _ := registry.Get("feed")
	if config.URL != "https://new.example.com" {
		t.Errorf("Expected reloaded URL, got %s", config.URL)
	}
}
