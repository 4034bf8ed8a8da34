package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocalTier(t *testing.T, quota int64) (*LocalTier, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewLocalTier(client, quota), mr
}

func testEntry(bundleID string, stories int) *Entry {
	return &Entry{
		Manifest: Manifest{
			BundleID:        bundleID,
			BundleTitle:     "Bundle " + bundleID,
			LastRefreshedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
			StoryCount:      stories,
			MaxAgeHours:     DefaultMaxAgeHours,
			Status:          StatusActive,
		},
		Stories: makeStories(stories, 100),
	}
}

func entrySize(t *testing.T, e *Entry) int64 {
	t.Helper()
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Failed to marshal entry: %v", err)
	}
	return int64(len(data))
}

func usedBytes(t *testing.T, tier *LocalTier) int64 {
	t.Helper()
	used, err := tier.UsedBytes(context.Background())
	if err != nil {
		t.Fatalf("UsedBytes failed: %v", err)
	}
	return used
}

func TestLocalTier_RoundTrip(t *testing.T) {
	ctx := context.Background()
	tier, _ := newTestLocalTier(t, 0)

	missing, err := tier.Get(ctx, "senate")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected a miss for an empty tier, got %+v", missing.Manifest)
	}

	entry := testEntry("senate", 5)
	if err := tier.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := tier.Get(ctx, "senate")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected the stored entry, got a miss")
	}
	if got.Manifest.BundleTitle != entry.Manifest.BundleTitle {
		t.Errorf("Expected title %s, got %s", entry.Manifest.BundleTitle, got.Manifest.BundleTitle)
	}
	if len(got.Stories) != 5 {
		t.Fatalf("Expected 5 stories, got %d", len(got.Stories))
	}
	if got.Stories[3].ID != entry.Stories[3].ID {
		t.Errorf("Expected story %s, got %s", entry.Stories[3].ID, got.Stories[3].ID)
	}

	if used, expected := usedBytes(t, tier), entrySize(t, entry); used != expected {
		t.Errorf("Expected %d bytes used, got %d", expected, used)
	}

	if err := tier.Clear(ctx, "senate"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	got, err = tier.Get(ctx, "senate")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("Expected a miss after Clear")
	}

	if used := usedBytes(t, tier); used != 0 {
		t.Errorf("Expected 0 bytes used after Clear, got %d", used)
	}
}

func TestLocalTier_InvalidDataIsAMiss(t *testing.T) {
	ctx := context.Background()
	tier, mr := newTestLocalTier(t, 0)

	if err := mr.Set(tier.entryKey("broken"), "{not json"); err != nil {
		t.Fatal(err)
	}

	got, err := tier.Get(ctx, "broken")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Error("Expected invalid data to read as a miss")
	}
	if mr.Exists(tier.entryKey("broken")) {
		t.Error("Expected the invalid entry to be deleted")
	}
}

func TestLocalTier_QuotaExceeded(t *testing.T) {
	ctx := context.Background()

	entry := testEntry("a", 5)
	size := entrySize(t, entry)
	tier, _ := newTestLocalTier(t, size+size/2)

	if err := tier.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Replacing the same bundle does not count its old size
	if err := tier.Put(ctx, entry); err != nil {
		t.Fatalf("Replacing put failed: %v", err)
	}

	if err := tier.Put(ctx, testEntry("b", 5)); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Expected ErrQuotaExceeded, got %v", err)
	}
}

func TestLocalTier_EvictOldestHalf(t *testing.T) {
	ctx := context.Background()
	tier, _ := newTestLocalTier(t, 0)

	clock := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tier.now = func() time.Time { return clock }

	for _, id := range []string{"a", "b", "c", "d"} {
		clock = clock.Add(time.Minute)
		if err := tier.Put(ctx, testEntry(id, 1)); err != nil {
			t.Fatalf("Put %s failed: %v", id, err)
		}
	}

	// Reading "a" makes it the most recently used
	clock = clock.Add(time.Minute)
	if _, err := tier.Get(ctx, "a"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	evicted, err := tier.EvictOldest(ctx)
	if err != nil {
		t.Fatalf("EvictOldest failed: %v", err)
	}
	if evicted != 2 {
		t.Errorf("Expected 2 evictions, got %d", evicted)
	}

	for id, expected := range map[string]bool{"a": true, "b": false, "c": false, "d": true} {
		got, err := tier.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s failed: %v", id, err)
		}
		if (got != nil) != expected {
			t.Errorf("Bundle %s: expected present=%v, got %v", id, expected, got != nil)
		}
	}
}
