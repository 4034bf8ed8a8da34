package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lysyi3m/rss-bundles/app/activity"
	"github.com/lysyi3m/rss-bundles/app/api"
	"github.com/lysyi3m/rss-bundles/app/bundle"
	"github.com/lysyi3m/rss-bundles/app/cache"
	"github.com/lysyi3m/rss-bundles/app/cfg"
	"github.com/lysyi3m/rss-bundles/app/database"
	"github.com/lysyi3m/rss-bundles/app/feed"
	"github.com/lysyi3m/rss-bundles/app/health"
	"github.com/lysyi3m/rss-bundles/app/ingest"
	"github.com/lysyi3m/rss-bundles/app/match"
	"github.com/lysyi3m/rss-bundles/app/metrics"
	"github.com/lysyi3m/rss-bundles/app/tasks"
	"github.com/lysyi3m/rss-bundles/app/tombstone"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	appCfg, err := cfg.Load()
	if err != nil {
		return err
	}
	if appCfg == nil {
		// Help was shown
		return nil
	}

	level := slog.LevelInfo
	if appCfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting RSS Bundles server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("Connected to database", "path", db.Path())

	feedRepo := database.NewFeedRepository(db)
	storyRepo := database.NewStoryRepository(db)
	matchRepo := database.NewMatchRepository(db)
	tombstoneRepo := database.NewTombstoneRepository(db)

	activityLog := activity.New(activity.DefaultCapacity, activity.NewSlogSink(nil))
	defer activityLog.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	bundleStore := bundle.NewStore(appCfg.BundlesDir)
	if err := bundleStore.Run(); err != nil {
		return fmt.Errorf("failed to load bundles: %w", err)
	}
	slog.Info("Loaded bundle definitions", "count", bundleStore.Count(), "dir", appCfg.BundlesDir)

	feedRegistry := feed.NewRegistry(appCfg.FeedsDir)
	if err := feedRegistry.Run(); err != nil {
		return fmt.Errorf("failed to load feed configurations: %w", err)
	}
	slog.Info("Loaded feed configurations", "count", feedRegistry.Count(), "dir", appCfg.FeedsDir)

	engine := match.NewEngine(match.NewScorer(appCfg.LowSignalFeedType, time.Now))
	searcher := ingest.NewSearcher(storyRepo, engine, time.Duration(appCfg.SearchWindowDays)*24*time.Hour)
	tombstones := tombstone.NewStore(tombstoneRepo, activityLog)

	ingestor := ingest.NewIngestor(storyRepo, matchRepo, tombstones, bundleStore, engine, searcher, activityLog, m,
		ingest.Options{BatchSize: appCfg.IngestBatchSize, BatchDelay: appCfg.IngestBatchDelay})

	recorder := health.NewRecorder(feedRepo, activityLog, m, appCfg.HealthFlushWindow, appCfg.HealthMaxPending)

	tiers, closeTiers := buildTiers(appCfg, db)
	defer closeTiers()

	storyCache := cache.NewService(tiers, bundleStore, matchRepo, searcher, tombstones, activityLog, m,
		cache.Options{MaxAgeHours: appCfg.CacheMaxAgeHours})

	scheduler := tasks.NewScheduler(tasks.Dependencies{
		Registry:   feedRegistry,
		FeedRepo:   feedRepo,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Parser:     feed.NewParser(),
		Filterer:   feed.NewFilterer(),
		Extractor:  feed.NewContentExtractor(),
		Ingestor:   ingestor,
		Health:     recorder,
		Metrics:    m,
	}, tasks.Options{
		WorkerCount: appCfg.WorkerCount,
		Interval:    time.Duration(appCfg.SchedulerInterval) * time.Second,
		UserAgent:   appCfg.UserAgent,
	})

	slog.Info("Starting background scheduler", "workers", appCfg.WorkerCount)
	scheduler.Start()

	var retention *tasks.Retention
	if appCfg.RetentionDays > 0 {
		retention, err = tasks.NewRetention(storyRepo, activityLog, time.Duration(appCfg.RetentionDays)*24*time.Hour, time.Hour)
		if err != nil {
			return err
		}
		if err := retention.Start(); err != nil {
			return err
		}
	} else {
		slog.Info("Story retention sweep disabled")
	}

	handler := api.NewHandler(api.Dependencies{
		Registry:   feedRegistry,
		FeedRepo:   feedRepo,
		Bundles:    bundleStore,
		Cache:      storyCache,
		Tombstones: tombstones,
		Ingestor:   ingestor,
		Rematcher:  ingestor,
		Generator:  feed.NewGenerator(appCfg.BaseUrl, appCfg.Port, appCfg.Version),
		Scheduler:  scheduler,
		Activity:   activityLog,
	})
	server := api.NewServer(handler, appCfg.APIAccessKey, appCfg.Version, registry)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if appCfg.APIAccessKey == "" {
			slog.Info("API endpoints disabled, API_ACCESS_KEY not set")
		}

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	activityLog.Success("RSS Bundles server started", "bundles", bundleStore.Count(), "feeds", feedRegistry.Count())

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	scheduler.Stop()
	slog.Info("Background scheduler stopped")

	if retention != nil {
		if err := retention.Stop(); err != nil {
			slog.Error("Retention sweep shutdown error", "error", err)
		}
	}

	// Pending health updates are written before the database closes
	if err := recorder.Close(shutdownCtx); err != nil {
		slog.Error("Failed to flush feed health", "error", err)
	}

	slog.Info("RSS Bundles server shutdown complete")
	return nil
}

// buildTiers assembles the cache chain fastest first. The local tier is skipped when
// Redis is not reachable; the remote tier uses MongoDB when configured and SQLite otherwise.
func buildTiers(appCfg *cfg.Cfg, db *database.DB) ([]cache.Tier, func()) {
	tiers := []cache.Tier{cache.NewMemoryTier(appCfg.MemoryCacheTTL)}
	var closers []func()

	if appCfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(appCfg.RedisAddr, appCfg.RedisPassword, appCfg.RedisDB)
		if err != nil {
			slog.Warn("Local cache tier disabled", "error", err)
		} else {
			tiers = append(tiers, cache.NewLocalTier(client, appCfg.LocalQuotaBytes))
			closers = append(closers, func() { client.Close() })
		}
	}

	remote := cache.Tier(cache.NewRemoteTier(database.NewCacheRepository(db)))
	if appCfg.MongoURI != "" {
		mongoTier, err := cache.NewMongoTier(context.Background(), appCfg.MongoURI, appCfg.MongoDatabase)
		if err != nil {
			slog.Warn("MongoDB cache tier unavailable, using SQLite", "error", err)
		} else {
			remote = mongoTier
			closers = append(closers, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := mongoTier.Close(ctx); err != nil {
					slog.Error("Failed to disconnect from MongoDB", "error", err)
				}
			})
		}
	}
	tiers = append(tiers, remote)

	return tiers, func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
}
