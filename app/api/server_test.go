package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lysyi3m/rss-bundles/app/activity"
	"github.com/lysyi3m/rss-bundles/app/bundle"
	"github.com/lysyi3m/rss-bundles/app/cache"
	"github.com/lysyi3m/rss-bundles/app/database"
	"github.com/lysyi3m/rss-bundles/app/feed"
	"github.com/lysyi3m/rss-bundles/app/ingest"
	"github.com/lysyi3m/rss-bundles/app/metrics"
	"github.com/lysyi3m/rss-bundles/app/tasks"
	"github.com/lysyi3m/rss-bundles/app/tombstone"
)

const testKey = "secret"

type fakeCache struct {
	mu        sync.Mutex
	stories   map[string][]cache.Story
	refreshed time.Time
	maxAge    int
	forced    int
	entries   int
	manifests int
	cleared   []string
	removed   map[string]bool
	bundles   BundleStore
	manifest  *cache.Manifest
}

func (f *fakeCache) GetEntry(_ context.Context, id string, force bool) (*cache.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bundles.Get(id); !ok {
		return nil, cache.ErrBundleNotFound
	}
	f.entries++
	if force {
		f.forced++
	}
	var visible []cache.Story
	for _, s := range f.stories[id] {
		if !f.removed[s.URL] {
			visible = append(visible, s)
		}
	}
	return &cache.Entry{
		Manifest: cache.Manifest{
			BundleID:        id,
			LastRefreshedAt: f.refreshed,
			StoryCount:      len(visible),
			MaxAgeHours:     f.maxAge,
		},
		Stories: visible,
	}, nil
}

func (f *fakeCache) Manifest(_ context.Context, _ string) *cache.Manifest {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests++
	return f.manifest
}

func (f *fakeCache) ClearCache(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, id)
	return nil
}

type fakeIngestor struct {
	feedID, title, feedType string
	items                   []ingest.FeedItem
}

func (f *fakeIngestor) Ingest(_ context.Context, feedID, title, feedType string, items []ingest.FeedItem) ingest.Result {
	f.feedID, f.title, f.feedType, f.items = feedID, title, feedType, items
	return ingest.Result{Saved: len(items), Matched: 1}
}

type fakeScheduler struct {
	queued []tasks.TaskInterface
}

func (f *fakeScheduler) Start() {}
func (f *fakeScheduler) Stop()  {}
func (f *fakeScheduler) EnqueueTask(task tasks.TaskInterface) error {
	f.queued = append(f.queued, task)
	return nil
}

type fakeRematcher struct{}

func (fakeRematcher) RematchBundle(context.Context, bundle.Bundle) (int, error) { return 0, nil }

type testServer struct {
	router      http.Handler
	cache       *fakeCache
	ingestor    *fakeIngestor
	scheduler   *fakeScheduler
	bundlesDir  string
	activityLog *activity.Log
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	feedsDir := t.TempDir()
	writeFile(t, filepath.Join(feedsDir, "capitol.yml"),
		"url: \"https://example.com/rss\"\ntitle: \"Capitol News\"\nsettings:\n  enabled: true\n")
	registry := feed.NewRegistry(feedsDir)
	if err := registry.Run(); err != nil {
		t.Fatalf("Failed to load feeds: %v", err)
	}

	feedRepo := database.NewFeedRepository(db)
	if err := feedRepo.UpsertFeed(context.Background(), "capitol", "https://example.com/rss", "Capitol News", "rss"); err != nil {
		t.Fatalf("Failed to register feed: %v", err)
	}

	bundlesDir := t.TempDir()
	writeFile(t, filepath.Join(bundlesDir, "senate.yml"), "title: \"US Senate\"\nsearch_terms: [\"senate\"]\n")
	bundles := bundle.NewStore(bundlesDir)
	if err := bundles.Run(); err != nil {
		t.Fatalf("Failed to load bundles: %v", err)
	}

	log := activity.New(activity.DefaultCapacity)
	t.Cleanup(log.Close)

	published := time.Date(2026, 7, 3, 10, 0, 0, 0, time.UTC)
	fc := &fakeCache{
		bundles:   bundles,
		refreshed: time.Now(),
		removed:   make(map[string]bool),
		stories: map[string][]cache.Story{
			"senate": {
				{ID: "a", URL: "https://example.com/a", Title: "Senate passes budget", PublishedAt: published, RelevanceScore: 48},
				{ID: "b", URL: "https://example.com/b", Title: "Senate recess", PublishedAt: published, RelevanceScore: 20, Order: 1},
			},
		},
	}

	ingestor := &fakeIngestor{}
	scheduler := &fakeScheduler{}

	handler := NewHandler(Dependencies{
		Registry:   registry,
		FeedRepo:   feedRepo,
		Bundles:    bundles,
		Cache:      fc,
		Tombstones: tombstone.NewStore(database.NewTombstoneRepository(db), log),
		Ingestor:   ingestor,
		Rematcher:  fakeRematcher{},
		Generator:  feed.NewGenerator("https://bundles.example.com", "8080", "test"),
		Scheduler:  scheduler,
		Activity:   log,
	})

	reg := prometheus.NewRegistry()
	metrics.New(reg).CacheMisses.Inc()

	return &testServer{
		router:      NewServer(handler, testKey, "test", reg),
		cache:       fc,
		ingestor:    ingestor,
		scheduler:   scheduler,
		bundlesDir:  bundlesDir,
		activityLog: log,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("X-API-Key", testKey)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Fatalf("Expected status %d, got %d: %s", expected, w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "", false)
	expectStatus(t, w, http.StatusOK)

	body := decode(t, w)
	for _, key := range []string{"feeds", "bundles", "loaded_configurations"} {
		if body[key] != float64(1) {
			t.Errorf("Expected %s to be 1, got %v", key, body[key])
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/metrics", "", false)
	expectStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "rss_bundles_cache_misses_total 1") {
		t.Errorf("Expected cache miss counter in metrics output, got %s", w.Body.String())
	}
}

func TestBundleStories(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/bundles/senate/stories", "", false)
	expectStatus(t, w, http.StatusOK)
	if total := decode(t, w)["total"]; total != float64(2) {
		t.Errorf("Expected 2 stories, got %v", total)
	}
	if s.cache.forced != 0 {
		t.Errorf("Expected no forced refresh, got %d", s.cache.forced)
	}

	w = s.do(t, http.MethodGet, "/bundles/senate/stories?refresh=true", "", false)
	expectStatus(t, w, http.StatusOK)
	if s.cache.forced != 1 {
		t.Errorf("Expected 1 forced refresh, got %d", s.cache.forced)
	}

	w = s.do(t, http.MethodGet, "/bundles/missing/stories", "", false)
	expectStatus(t, w, http.StatusNotFound)
}

func TestBundleStories_FreshnessComesFromServedEntry(t *testing.T) {
	s := newTestServer(t)

	// A zero max age means the default, so a just-refreshed entry is fresh
	w := s.do(t, http.MethodGet, "/bundles/senate/stories", "", false)
	expectStatus(t, w, http.StatusOK)
	if fresh := decode(t, w)["fresh"]; fresh != true {
		t.Errorf("Expected fresh=true for a zero max age, got %v", fresh)
	}
	if s.cache.entries != 1 || s.cache.manifests != 0 {
		t.Errorf("Expected one cache read and no manifest lookup, got %d reads and %d lookups",
			s.cache.entries, s.cache.manifests)
	}

	s.cache.refreshed = time.Now().Add(-3 * time.Hour)
	s.cache.maxAge = 2
	w = s.do(t, http.MethodGet, "/bundles/senate/stories", "", false)
	expectStatus(t, w, http.StatusOK)
	if fresh := decode(t, w)["fresh"]; fresh != false {
		t.Errorf("Expected fresh=false past the bundle max age, got %v", fresh)
	}
}

func TestBundleFeedXML(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/bundles/senate/feed.xml", "", false)
	expectStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "application/xml; charset=utf-8" {
		t.Errorf("Expected XML content type, got %s", ct)
	}
	if n := w.Header().Get("X-Bundle-Stories"); n != "2" {
		t.Errorf("Expected X-Bundle-Stories 2, got %s", n)
	}
	for _, fragment := range []string{
		"<title>Senate passes budget</title>",
		"https://bundles.example.com/bundles/senate/feed.xml",
	} {
		if !strings.Contains(w.Body.String(), fragment) {
			t.Errorf("Expected feed to contain %q", fragment)
		}
	}

	w = s.do(t, http.MethodGet, "/bundles/missing/feed.xml", "", false)
	expectStatus(t, w, http.StatusNotFound)
}

func TestListBundles(t *testing.T) {
	s := newTestServer(t)
	s.cache.manifest = &cache.Manifest{BundleID: "senate", StoryCount: 2}

	w := s.do(t, http.MethodGet, "/bundles", "", false)
	expectStatus(t, w, http.StatusOK)

	bundles := decode(t, w)["bundles"].([]any)
	if len(bundles) != 1 {
		t.Fatalf("Expected 1 bundle, got %d", len(bundles))
	}
	first := bundles[0].(map[string]any)
	if first["id"] != "senate" {
		t.Errorf("Expected bundle senate, got %v", first["id"])
	}
	if first["cache"] == nil {
		t.Error("Expected cache manifest in bundle listing")
	}
}

func TestAPIRequiresKey(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/feeds", "", false)
	expectStatus(t, w, http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/api/feeds", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	req = httptest.NewRequest(http.MethodGet, "/api/feeds", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestAPIListFeedsIncludesHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/feeds", "", true)
	expectStatus(t, w, http.StatusOK)

	feeds := decode(t, w)["feeds"].([]any)
	if len(feeds) != 1 {
		t.Fatalf("Expected 1 feed, got %d", len(feeds))
	}
	capitol := feeds[0].(map[string]any)
	if capitol["name"] != "capitol" {
		t.Errorf("Expected feed capitol, got %v", capitol["name"])
	}
	if capitol["type"] != "rss" {
		t.Errorf("Expected type rss, got %v", capitol["type"])
	}
	if capitol["health"] == nil {
		t.Error("Expected feed health in listing")
	}
}

func TestRemovedLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/bundles/senate/removed", `{"url":"https://example.com/a","actor":"editor"}`, true)
	expectStatus(t, w, http.StatusOK)

	w = s.do(t, http.MethodGet, "/api/bundles/senate/removed", "", true)
	expectStatus(t, w, http.StatusOK)
	removed := decode(t, w)["removed"].([]any)
	if len(removed) != 1 || removed[0] != "https://example.com/a" {
		t.Errorf("Expected the removed url to be listed, got %v", removed)
	}

	w = s.do(t, http.MethodPost, "/api/bundles/senate/removed", `{"actor":"editor"}`, true)
	expectStatus(t, w, http.StatusBadRequest)

	w = s.do(t, http.MethodPost, "/api/bundles/missing/removed", `{"url":"https://example.com/a"}`, true)
	expectStatus(t, w, http.StatusNotFound)

	w = s.do(t, http.MethodDelete, "/api/bundles/senate/removed?url=https://example.com/a", "", true)
	expectStatus(t, w, http.StatusOK)

	w = s.do(t, http.MethodDelete, "/api/bundles/senate/removed", `{"url":"https://example.com/a"}`, true)
	expectStatus(t, w, http.StatusNotFound)
}

func TestClearCache(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodDelete, "/api/bundles/senate/cache", "", true)
	expectStatus(t, w, http.StatusOK)
	if len(s.cache.cleared) != 1 || s.cache.cleared[0] != "senate" {
		t.Errorf("Expected senate cache to be cleared, got %v", s.cache.cleared)
	}

	w = s.do(t, http.MethodDelete, "/api/bundles/missing/cache", "", true)
	expectStatus(t, w, http.StatusNotFound)
}

func TestReloadBundle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/bundles/senate/reload", "", true)
	expectStatus(t, w, http.StatusOK)
	if changed := decode(t, w)["changed"]; changed != false {
		t.Errorf("Expected changed=false, got %v", changed)
	}
	if len(s.scheduler.queued) != 0 || len(s.cache.cleared) != 0 {
		t.Errorf("Expected no rematch and no cache clear, got %d tasks and %v", len(s.scheduler.queued), s.cache.cleared)
	}

	writeFile(t, filepath.Join(s.bundlesDir, "senate.yml"), "title: \"US Senate\"\nsearch_terms: [\"senate\", \"filibuster\"]\n")

	w = s.do(t, http.MethodPost, "/api/bundles/senate/reload", "", true)
	expectStatus(t, w, http.StatusOK)
	if changed := decode(t, w)["changed"]; changed != true {
		t.Errorf("Expected changed=true, got %v", changed)
	}
	if len(s.cache.cleared) != 1 || s.cache.cleared[0] != "senate" {
		t.Errorf("Expected senate cache to be cleared, got %v", s.cache.cleared)
	}
	if len(s.scheduler.queued) != 1 {
		t.Fatalf("Expected 1 queued task, got %d", len(s.scheduler.queued))
	}
	if got := s.scheduler.queued[0].GetType(); got != tasks.TaskTypeRematchBundle {
		t.Errorf("Expected rematch task, got %s", got)
	}

	if err := os.Remove(filepath.Join(s.bundlesDir, "senate.yml")); err != nil {
		t.Fatal(err)
	}
	w = s.do(t, http.MethodPost, "/api/bundles/senate/reload", "", true)
	expectStatus(t, w, http.StatusOK)
	if removed := decode(t, w)["removed"]; removed != true {
		t.Errorf("Expected removed=true, got %v", removed)
	}

	w = s.do(t, http.MethodPost, "/api/bundles/nothing/reload", "", true)
	expectStatus(t, w, http.StatusNotFound)
}

func TestIngestItems(t *testing.T) {
	s := newTestServer(t)

	body := `{"type":"reddit","items":[{"title":"Senate vote","url":"https://reddit.com/r/x/1","metrics":{"upvotes":120}}]}`
	w := s.do(t, http.MethodPost, "/api/feeds/r-politics/items", body, true)
	expectStatus(t, w, http.StatusOK)

	if s.ingestor.feedID != "r-politics" || s.ingestor.title != "r-politics" {
		t.Errorf("Expected feed id and title r-politics, got %s and %s", s.ingestor.feedID, s.ingestor.title)
	}
	if s.ingestor.feedType != "reddit" {
		t.Errorf("Expected type reddit, got %s", s.ingestor.feedType)
	}
	if len(s.ingestor.items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(s.ingestor.items))
	}
	if upvotes := s.ingestor.items[0].Metrics["upvotes"]; upvotes != 120 {
		t.Errorf("Expected 120 upvotes, got %v", upvotes)
	}

	result := decode(t, w)["result"].(map[string]any)
	if result["saved"] != float64(1) {
		t.Errorf("Expected saved=1, got %v", result["saved"])
	}

	// Registered feeds fall back to their configured title and type
	w = s.do(t, http.MethodPost, "/api/feeds/capitol/items", `{"items":[{"title":"x","url":"https://example.com/x"}]}`, true)
	expectStatus(t, w, http.StatusOK)
	if s.ingestor.title != "Capitol News" || s.ingestor.feedType != "rss" {
		t.Errorf("Expected configured title and type, got %s and %s", s.ingestor.title, s.ingestor.feedType)
	}

	w = s.do(t, http.MethodPost, "/api/feeds/capitol/items", `{"title":"no items"}`, true)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestActivity(t *testing.T) {
	s := newTestServer(t)
	s.activityLog.Info("first")
	s.activityLog.Warning("second")
	s.activityLog.Info("third")

	w := s.do(t, http.MethodGet, "/activity?limit=2", "", false)
	expectStatus(t, w, http.StatusOK)
	entries := decode(t, w)["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if msg := entries[0].(map[string]any)["message"]; msg != "third" {
		t.Errorf("Expected newest entry first, got %v", msg)
	}

	w = s.do(t, http.MethodGet, "/activity?level=warning", "", false)
	expectStatus(t, w, http.StatusOK)
	entries = decode(t, w)["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 warning entry, got %d", len(entries))
	}
	if msg := entries[0].(map[string]any)["message"]; msg != "second" {
		t.Errorf("Expected warning entry, got %v", msg)
	}

	w = s.do(t, http.MethodGet, "/activity?limit=zero", "", false)
	expectStatus(t, w, http.StatusBadRequest)
}
