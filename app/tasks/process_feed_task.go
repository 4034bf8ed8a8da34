package tasks

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lysyi3m/rss-bundles/app/database"
	"github.com/lysyi3m/rss-bundles/app/feed"
	"github.com/lysyi3m/rss-bundles/app/ingest"
)

const maxPageBytes = 5 << 20

// ProcessFeedTask fetches one feed and hands its items to the ingestor
type ProcessFeedTask struct {
	Task
	FeedConfig *feed.Config
	httpClient *http.Client
	parser     *feed.Parser
	filterer   *feed.Filterer
	extractor  *feed.ContentExtractor
	ingestor   FeedIngestor
	health     HealthQueue
	feedRepo   database.FeedRepository
	userAgent  string
	now        func() time.Time
}

func NewProcessFeedTask(feedConfig *feed.Config, deps Dependencies, userAgent string) *ProcessFeedTask {
	return &ProcessFeedTask{
		Task:       NewTask(TaskTypeProcessFeed, feedConfig.Name),
		FeedConfig: feedConfig,
		httpClient: deps.HTTPClient,
		parser:     deps.Parser,
		filterer:   deps.Filterer,
		extractor:  deps.Extractor,
		ingestor:   deps.Ingestor,
		health:     deps.Health,
		feedRepo:   deps.FeedRepo,
		userAgent:  userAgent,
		now:        time.Now,
	}
}

func (t *ProcessFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.FeedConfig.Settings.Enabled {
		slog.Debug("Feed disabled, skipping", "feed", t.Target)
		return nil
	}

	metadata, items, err := t.fetchAndParse(ctx)
	if err != nil {
		t.health.QueueError(t.Target, err.Error())
		return err
	}

	total := len(items)
	items = t.filterer.Run(items, t.FeedConfig)
	filtered := total - len(items)

	if maxItems := t.FeedConfig.Settings.MaxItems; maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}

	if t.FeedConfig.Settings.ExtractContent && t.extractor != nil {
		t.extractContent(ctx, items)
	}

	feedItems := make([]ingest.FeedItem, len(items))
	for i, item := range items {
		feedItems[i] = item.ToFeedItem()
	}

	title := cmp.Or(t.FeedConfig.Title, metadata.Title, t.FeedConfig.Name)
	result := t.ingestor.Ingest(ctx, t.Target, title, t.FeedConfig.Type, feedItems)

	if result.Failed > 0 && result.Saved+result.Skipped == 0 {
		t.health.QueueError(t.Target, fmt.Sprintf("all %d items failed to ingest", result.Failed))
	} else {
		t.health.QueueSuccess(t.Target)
	}

	now := t.now().UTC()
	nextFetch := now.Add(time.Duration(t.FeedConfig.Settings.RefreshInterval) * time.Second)
	if err := t.feedRepo.UpdateNextFetch(ctx, t.Target, now, nextFetch); err != nil {
		return fmt.Errorf("failed to update next fetch time: %w", err)
	}

	slog.Info("Task completed",
		"type", "ProcessFeed",
		"feed", t.Target,
		"duration", t.GetDuration(),
		"total", total,
		"filtered", filtered,
		"saved", result.Saved,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"matched", result.Matched)

	return nil
}

func (t *ProcessFeedTask) fetchAndParse(ctx context.Context) (*feed.Metadata, []feed.Item, error) {
	data, err := t.fetch(ctx, t.FeedConfig.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	metadata, items, err := t.parser.Run(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	return metadata, items, nil
}

// extractContent replaces item content with the article text of the linked page.
// Failures keep the content found in the feed.
func (t *ProcessFeedTask) extractContent(ctx context.Context, items []feed.Item) {
	extracted := 0

	for i := range items {
		if ctx.Err() != nil {
			return
		}
		if items[i].Link == "" {
			continue
		}

		data, err := t.fetch(ctx, items[i].Link)
		if err != nil {
			slog.Debug("Failed to fetch article", "feed", t.Target, "url", items[i].Link, "error", err)
			continue
		}

		text, err := t.extractor.Run(data, items[i].Link)
		if err != nil {
			slog.Debug("Failed to extract article", "feed", t.Target, "url", items[i].Link, "error", err)
			continue
		}

		items[i].Content = text
		extracted++
	}

	slog.Debug("Content extraction finished", "feed", t.Target, "items", len(items), "extracted", extracted)
}

func (t *ProcessFeedTask) fetch(ctx context.Context, url string) ([]byte, error) {
	timeout := time.Duration(cmp.Or(t.FeedConfig.Settings.Timeout, 30)) * time.Second
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
