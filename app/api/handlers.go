package api

import (
	"cmp"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-bundles/app/activity"
	"github.com/lysyi3m/rss-bundles/app/cache"
	"github.com/lysyi3m/rss-bundles/app/tasks"
)

const (
	defaultActivityLimit = 50
	genericFeedType      = "generic"
)

func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		registry:   deps.Registry,
		feedRepo:   deps.FeedRepo,
		bundles:    deps.Bundles,
		cache:      deps.Cache,
		tombstones: deps.Tombstones,
		ingestor:   deps.Ingestor,
		rematcher:  deps.Rematcher,
		generator:  deps.Generator,
		scheduler:  deps.Scheduler,
		activity:   deps.Activity,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]any{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"bundles":   h.bundles.Count(),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(c.Request.Context()); err == nil {
		health["feeds"] = feedCount
	}

	health["loaded_configurations"] = h.registry.Count()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetActivity(c *gin.Context) {
	limit := defaultActivityLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	var entries []activity.Entry
	if level := c.Query("level"); level != "" {
		entries = h.activity.RecentByLevel(activity.Level(level))
		entries = entries[:min(limit, len(entries))]
	} else {
		entries = h.activity.Recent(limit)
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
		"dropped": h.activity.Dropped(),
	})
}

func (h *Handler) ListBundles(c *gin.Context) {
	list := h.bundles.List()
	bundles := make([]map[string]any, 0, len(list))

	for _, b := range list {
		info := map[string]any{
			"id":            b.ID,
			"title":         b.Title,
			"description":   b.Description,
			"search_terms":  b.SearchTerms,
			"feeds":         b.FeedIDs,
			"priority":      b.Priority,
			"max_age_hours": b.MaxAgeHours,
		}

		if manifest := h.cache.Manifest(c.Request.Context(), b.ID); manifest != nil {
			info["cache"] = manifest
		}

		bundles = append(bundles, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"bundles": bundles,
		"total":   len(bundles),
	})
}

func (h *Handler) GetBundleStories(c *gin.Context) {
	id := c.Param("id")
	refresh := c.Query("refresh") == "true"

	entry, ok := h.loadEntry(c, id, refresh)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bundle":            id,
		"stories":           entry.Stories,
		"total":             len(entry.Stories),
		"last_refreshed_at": entry.Manifest.LastRefreshedAt,
		"fresh":             entry.Manifest.Fresh(time.Now()),
	})
}

func (h *Handler) GetBundleFeed(c *gin.Context) {
	id := c.Param("id")

	b, found := h.bundles.Get(id)
	if !found {
		c.Status(http.StatusNotFound)
		return
	}

	entry, ok := h.loadEntry(c, id, false)
	if !ok {
		return
	}
	stories := entry.Stories

	rss, err := h.generator.Run(*b, stories)
	if err != nil {
		slog.Error("RSS generation error", "bundle", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Bundle-Stories", strconv.Itoa(len(stories)))
	c.Header("X-Bundle-ID", id)

	c.String(http.StatusOK, rss)
}

func (h *Handler) loadEntry(c *gin.Context, id string, refresh bool) (*cache.Entry, bool) {
	entry, err := h.cache.GetEntry(c.Request.Context(), id, refresh)
	if errors.Is(err, cache.ErrBundleNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bundle not found"})
		return nil, false
	}
	if err != nil {
		slog.Error("Failed to load bundle stories", "bundle", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load bundle stories"})
		return nil, false
	}
	return entry, true
}

func (h *Handler) APIClearCache(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.bundles.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bundle not found"})
		return
	}

	if err := h.cache.ClearCache(c.Request.Context(), id); err != nil {
		slog.Error("Failed to clear bundle cache", "bundle", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cache", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "bundle": id})
}

func (h *Handler) APIListRemoved(c *gin.Context) {
	id := c.Param("id")

	urls, err := h.tombstones.ListRemoved(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "list_removed", "bundle", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bundle":  id,
		"removed": urls,
		"total":   len(urls),
	})
}

func (h *Handler) APIMarkRemoved(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.bundles.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bundle not found"})
		return
	}

	var req removedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	if err := h.tombstones.MarkRemoved(c.Request.Context(), req.URL, id, req.Actor); err != nil {
		slog.Error("Failed to mark story removed", "bundle", id, "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove story"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "bundle": id, "url": req.URL})
}

func (h *Handler) APIClearRemoved(c *gin.Context) {
	id := c.Param("id")

	url := c.Query("url")
	if url == "" {
		var req removedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing url"})
			return
		}
		url = req.URL
	}

	cleared, err := h.tombstones.Clear(c.Request.Context(), url, id)
	if err != nil {
		slog.Error("Failed to clear tombstone", "bundle", id, "url", url, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to restore story"})
		return
	}
	if !cleared {
		c.JSON(http.StatusNotFound, gin.H{"error": "Story is not removed from this bundle"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "bundle": id, "url": url})
}

func (h *Handler) APIReloadBundle(c *gin.Context) {
	id := c.Param("id")

	b, changed, err := h.bundles.Reload(id)
	if err != nil {
		slog.Error("Error reloading bundle", "bundle", id, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Failed to reload bundle",
			"details": err.Error(),
		})
		return
	}

	if b == nil {
		if !changed {
			c.JSON(http.StatusNotFound, gin.H{"error": "Bundle not found"})
			return
		}
		if err := h.cache.ClearCache(c.Request.Context(), id); err != nil {
			slog.Warn("Failed to clear cache of removed bundle", "bundle", id, "error", err)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "bundle": id, "removed": true})
		return
	}

	if !changed {
		c.JSON(http.StatusOK, gin.H{"success": true, "bundle": id, "changed": false})
		return
	}

	if err := h.cache.ClearCache(c.Request.Context(), id); err != nil {
		slog.Warn("Failed to clear bundle cache", "bundle", id, "error", err)
	}

	rematchTask := tasks.NewRematchBundleTask(*b, h.rematcher, h.cache)
	if err := h.scheduler.EnqueueTask(rematchTask); err != nil {
		slog.Error("Error enqueueing rematch task", "bundle", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue rematch task",
			"details": err.Error(),
		})
		return
	}

	h.activity.Info("Bundle definition reloaded", "bundle", id, "task", rematchTask.ID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"bundle":  id,
		"changed": true,
		"tasks": []gin.H{
			{"id": rematchTask.ID, "type": rematchTask.Type},
		},
	})
}

// APIIngestItems is the entry point for adapters that push items instead of being polled
func (h *Handler) APIIngestItems(c *gin.Context) {
	feedID := c.Param("id")

	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	var configTitle, configType string
	if config, ok := h.registry.Get(feedID); ok {
		configTitle, configType = config.Title, config.Type
	}

	result := h.ingestor.Ingest(c.Request.Context(), feedID,
		cmp.Or(req.Title, configTitle, feedID),
		cmp.Or(req.Type, configType, genericFeedType),
		req.Items)

	c.JSON(http.StatusOK, gin.H{
		"feed":   feedID,
		"result": result,
	})
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	ctx := c.Request.Context()
	feeds := make([]map[string]any, 0, h.registry.Count())
	listed := make(map[string]bool)

	for _, feedConfig := range h.registry.List() {
		feedInfo := map[string]any{
			"name":             feedConfig.Name,
			"url":              feedConfig.URL,
			"type":             feedConfig.Type,
			"title":            feedConfig.Title,
			"enabled":          feedConfig.Settings.Enabled,
			"max_items":        feedConfig.Settings.MaxItems,
			"refresh_interval": (time.Duration(feedConfig.Settings.RefreshInterval) * time.Second).String(),
			"extract_content":  feedConfig.Settings.ExtractContent,
			"filters":          len(feedConfig.Filters),
		}
		listed[feedConfig.Name] = true
		feeds = append(feeds, feedInfo)
	}

	known, err := h.feedRepo.ListFeeds(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "list_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	health := make(map[string]map[string]any, len(known))
	for _, f := range known {
		health[f.Name] = map[string]any{
			"last_fetched_at":    f.LastFetchedAt,
			"next_fetch_at":      f.NextFetchAt,
			"last_success_at":    f.LastSuccessAt,
			"last_error":         f.LastError,
			"last_error_at":      f.LastErrorAt,
			"consecutive_errors": f.ConsecutiveErrors,
		}
		if !listed[f.Name] {
			feeds = append(feeds, map[string]any{"name": f.Name, "title": f.Title, "type": f.FeedType})
		}
	}

	for _, feedInfo := range feeds {
		if state, ok := health[feedInfo["name"].(string)]; ok {
			feedInfo["health"] = state
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": feeds,
		"total": len(feeds),
	})
}
