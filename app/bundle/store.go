package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store holds the bundle definitions loaded from a directory of YAML files
type Store struct {
	bundlesDir string
	bundles    map[string]*Bundle
	mu         sync.RWMutex
}

func NewStore(bundlesDir string) *Store {
	return &Store{
		bundlesDir: bundlesDir,
		bundles:    make(map[string]*Bundle),
	}
}

// Run loads every bundle file in the directory
func (s *Store) Run() error {
	if _, err := os.Stat(s.bundlesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(s.bundlesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		id := strings.TrimSuffix(filepath.Base(file), ".yml")

		b, err := s.load(id)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		s.mu.Lock()
		s.bundles[id] = b
		s.mu.Unlock()

		slog.Debug("Bundle loaded", "bundle", id, "title", b.Title, "terms", len(b.SearchTerms))
	}

	return nil
}

// Reload re-reads one bundle file. It returns the new definition (nil when the file
// was removed) and whether the matching criteria differ from the previous one.
func (s *Store) Reload(id string) (*Bundle, bool, error) {
	b, err := s.load(id)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		_, existed := s.bundles[id]
		delete(s.bundles, id)
		s.mu.Unlock()
		return nil, existed, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	previous := s.bundles[id]
	s.bundles[id] = b
	s.mu.Unlock()

	return b, previous == nil || !previous.SameCriteria(b), nil
}

// Put registers a bundle directly. Used by tools and tests.
func (s *Store) Put(b *Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[b.ID] = b
}

func (s *Store) Get(id string) (*Bundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bundles[id]
	return b, ok
}

// List returns copies of all bundles ordered by id
func (s *Store) List() []Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Bundle, 0, len(s.bundles))
	for _, b := range s.bundles {
		list = append(list, *b)
	}
	slices.SortFunc(list, func(a, b Bundle) int { return strings.Compare(a.ID, b.ID) })

	return list
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bundles)
}

func (s *Store) load(id string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(s.bundlesDir, id+".yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	b.ID = id

	if err := validate(&b); err != nil {
		return nil, fmt.Errorf("invalid bundle %s: %w", id, err)
	}

	return &b, nil
}

func validate(b *Bundle) error {
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if b.MaxAgeHours < 0 {
		return fmt.Errorf("max age hours must be non-negative")
	}
	for i, term := range b.SearchTerms {
		if strings.TrimSpace(term) == "" {
			return fmt.Errorf("search term at index %d is empty", i)
		}
	}
	return nil
}
