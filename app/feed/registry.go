package feed

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var validFilterFields = map[string]bool{
	"title":       true,
	"description": true,
	"content":     true,
	"authors":     true,
	"link":        true,
	"categories":  true,
}

// Registry holds the feed definitions found in the feeds directory
type Registry struct {
	feedsDir string
	configs  map[string]*Config
	mu       sync.RWMutex
}

func NewRegistry(feedsDir string) *Registry {
	return &Registry{
		feedsDir: feedsDir,
		configs:  make(map[string]*Config),
	}
}

func (r *Registry) Run() error {
	if _, err := os.Stat(r.feedsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(r.feedsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		feedName := strings.TrimSuffix(filepath.Base(file), ".yml")

		config, err := r.Load(feedName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Feed configuration loaded", "feed", feedName, "type", config.Type, "enabled", config.Settings.Enabled)
	}

	return nil
}

// Load reads and validates one feed definition, replacing any cached version
func (r *Registry) Load(feedName string) (*Config, error) {
	configFile := filepath.Join(r.feedsDir, feedName+".yml")

	feedConfig, err := r.parseConfig(configFile)
	if err != nil {
		return nil, err
	}
	feedConfig.Name = feedName

	if err := validateConfig(feedConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[feedName] = feedConfig

	return feedConfig, nil
}

func (r *Registry) Get(feedName string) (*Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	feedConfig, ok := r.configs[feedName]
	return feedConfig, ok
}

// List returns all feed definitions sorted by name
func (r *Registry) List() []*Config {
	r.mu.RLock()
	configs := make([]*Config, 0, len(r.configs))
	for _, c := range r.configs {
		configs = append(configs, c)
	}
	r.mu.RUnlock()

	slices.SortFunc(configs, func(a, b *Config) int { return strings.Compare(a.Name, b.Name) })
	return configs
}

func (r *Registry) Enabled() []*Config {
	var enabled []*Config
	for _, c := range r.List() {
		if c.Settings.Enabled {
			enabled = append(enabled, c)
		}
	}
	return enabled
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

func (r *Registry) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var feedConfig Config
	if err := yaml.Unmarshal(data, &feedConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	feedConfig.Type = strings.ToLower(cmp.Or(strings.TrimSpace(feedConfig.Type), DefaultType))
	feedConfig.Settings.RefreshInterval = cmp.Or(feedConfig.Settings.RefreshInterval, 3600)
	feedConfig.Settings.MaxItems = cmp.Or(feedConfig.Settings.MaxItems, 100)
	feedConfig.Settings.Timeout = cmp.Or(feedConfig.Settings.Timeout, 30)

	return &feedConfig, nil
}

func validateConfig(feedConfig *Config) error {
	if feedConfig == nil {
		return fmt.Errorf("feedConfig is nil")
	}
	if feedConfig.Name == "" {
		return fmt.Errorf("feed name is required")
	}
	if feedConfig.URL == "" {
		return fmt.Errorf("feed URL is required")
	}

	nonNegativeFields := map[string]int{
		"refresh interval": feedConfig.Settings.RefreshInterval,
		"max items":        feedConfig.Settings.MaxItems,
		"timeout":          feedConfig.Settings.Timeout,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	for i, filter := range feedConfig.Filters {
		if !validFilterFields[filter.Field] {
			return fmt.Errorf("invalid filter field at index %d: %s", i, filter.Field)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d must have at least one include or exclude rule", i)
		}
	}

	return nil
}
