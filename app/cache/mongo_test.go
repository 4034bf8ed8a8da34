package cache

import (
	"bytes"
	"slices"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

func TestManifestDocument_BSONRoundTrip(t *testing.T) {
	refreshed := time.Date(2026, 6, 1, 12, 30, 0, 0, time.UTC)
	doc := manifestDocument{
		ID: "senate",
		Manifest: Manifest{
			BundleID:        "senate",
			BundleTitle:     "US Senate",
			LastRefreshedAt: refreshed,
			LastAccessedAt:  refreshed.Add(time.Minute),
			StoryCount:      42,
			ChunkCount:      1,
			SearchTerms:     []string{"senate", "filibuster"},
			FeedIDs:         []string{"capitol"},
			MaxAgeHours:     6,
			Status:          StatusActive,
		},
	}

	data, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("Failed to marshal manifest document: %v", err)
	}

	// Manifest fields are inlined next to the _id the tier queries by
	raw := bson.Raw(data)
	if id, ok := raw.Lookup("_id").StringValueOK(); !ok || id != "senate" {
		t.Errorf("Expected _id senate, got %v", raw.Lookup("_id"))
	}
	if title, ok := raw.Lookup("bundletitle").StringValueOK(); !ok || title != "US Senate" {
		t.Errorf("Expected inline bundletitle, got %v", raw.Lookup("bundletitle"))
	}
	if _, err := raw.LookupErr("manifest"); err == nil {
		t.Error("Expected the manifest to be inlined, found a nested manifest document")
	}

	var decoded manifestDocument
	if err := bson.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal manifest document: %v", err)
	}

	got := decoded.Manifest
	if decoded.ID != "senate" || got.BundleID != "senate" || got.BundleTitle != "US Senate" {
		t.Errorf("Expected senate / US Senate, got %s / %s / %s", decoded.ID, got.BundleID, got.BundleTitle)
	}
	if !got.LastRefreshedAt.Equal(refreshed) {
		t.Errorf("Expected last refreshed %v, got %v", refreshed, got.LastRefreshedAt)
	}
	if !got.LastAccessedAt.Equal(refreshed.Add(time.Minute)) {
		t.Errorf("Expected last accessed %v, got %v", refreshed.Add(time.Minute), got.LastAccessedAt)
	}
	if got.StoryCount != 42 || got.ChunkCount != 1 || got.MaxAgeHours != 6 {
		t.Errorf("Expected counts 42/1/6, got %d/%d/%d", got.StoryCount, got.ChunkCount, got.MaxAgeHours)
	}
	if !slices.Equal(got.SearchTerms, doc.SearchTerms) || !slices.Equal(got.FeedIDs, doc.FeedIDs) {
		t.Errorf("Expected terms %v and feeds %v, got %v and %v", doc.SearchTerms, doc.FeedIDs, got.SearchTerms, got.FeedIDs)
	}
	if got.Status != StatusActive {
		t.Errorf("Expected status %s, got %s", StatusActive, got.Status)
	}
}

func TestChunkDocument_BSONRoundTrip(t *testing.T) {
	chunks, err := Pack(makeStories(3, 20), MaxChunkItems, MaxChunkBytes)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	doc := chunkDocument{BundleID: "senate", Index: 0, Payload: chunks[0], Size: len(chunks[0])}

	data, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("Failed to marshal chunk document: %v", err)
	}

	// The unique index and the Get query address these keys
	raw := bson.Raw(data)
	for _, key := range []string{"bundle_id", "index", "payload", "size"} {
		if _, err := raw.LookupErr(key); err != nil {
			t.Errorf("Expected key %s in chunk document: %v", key, err)
		}
	}

	var decoded chunkDocument
	if err := bson.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal chunk document: %v", err)
	}
	if decoded.BundleID != "senate" || decoded.Index != 0 || decoded.Size != len(chunks[0]) {
		t.Errorf("Expected senate/0/%d, got %s/%d/%d", len(chunks[0]), decoded.BundleID, decoded.Index, decoded.Size)
	}
	if !bytes.Equal(decoded.Payload, chunks[0]) {
		t.Error("Expected the payload to survive the round trip unchanged")
	}

	stories, err := Unpack([][]byte{decoded.Payload})
	if err != nil {
		t.Fatalf("Unpack failed: %v", err)
	}
	expectIDs(t, stories, "story-000", "story-001", "story-002")
}
