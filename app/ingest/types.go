package ingest

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// FeedItem is a normalized item handed over by a feed adapter
type FeedItem struct {
	GUID        string             `json:"guid"`
	Title       string             `json:"title" binding:"required"`
	URL         string             `json:"url"`
	PubDate     string             `json:"pub_date"` // loosely parsed
	Snippet     string             `json:"snippet"`
	Description string             `json:"description"`
	Content     string             `json:"content"`
	Author      string             `json:"author"`
	Categories  []string           `json:"categories"`
	Thumbnail   string             `json:"thumbnail"`
	Metrics     map[string]float64 `json:"metrics"` // feed-type specific engagement numbers
}

// Result summarizes one ingest call
type Result struct {
	Saved   int `json:"saved"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Matched int `json:"matched"`
}

const (
	maxSnippetRunes = 500
	maxBodyRunes    = 20000
)

// matchBody is the stored text the matcher reads besides the title and snippet
func matchBody(item FeedItem) string {
	parts := make([]string, 0, 2)
	for _, part := range []string{item.Description, item.Content} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return truncateRunes(strings.Join(parts, " "), maxBodyRunes)
}

// Identity is the canonical id of an item within a feed. Source ids are not trusted,
// the url is preferred and the guid or title stand in when it is missing.
func Identity(feedID, url, guid, title string) string {
	key := cmp.Or(strings.TrimSpace(url), strings.TrimSpace(guid), strings.TrimSpace(title))
	sum := sha256.Sum256([]byte(feedID + "|" + key))
	return hex.EncodeToString(sum[:])
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
