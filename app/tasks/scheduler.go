package tasks

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lysyi3m/rss-bundles/app/database"
	"github.com/lysyi3m/rss-bundles/app/feed"
	"github.com/lysyi3m/rss-bundles/app/metrics"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	DefaultWorkerCount = 5
	DefaultInterval    = 30 * time.Second
	DefaultQueueSize   = 300
	taskTimeout        = 5 * time.Minute
)

// Dependencies are shared by the feed tasks the scheduler creates
type Dependencies struct {
	Registry   *feed.Registry
	FeedRepo   database.FeedRepository
	HTTPClient *http.Client
	Parser     *feed.Parser
	Filterer   *feed.Filterer
	Extractor  *feed.ContentExtractor
	Ingestor   FeedIngestor
	Health     HealthQueue
	Metrics    *metrics.Metrics
}

type Options struct {
	WorkerCount int
	Interval    time.Duration
	QueueSize   int
	UserAgent   string
}

type Scheduler struct {
	deps        Dependencies
	userAgent   string
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface

	// queued or running tasks by type and target
	mu     sync.Mutex
	active map[string]bool
}

func NewScheduler(deps Dependencies, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}

	return &Scheduler{
		deps:        deps,
		userAgent:   opts.UserAgent,
		interval:    cmp.Or(opts.Interval, DefaultInterval),
		workerCount: cmp.Or(opts.WorkerCount, DefaultWorkerCount),
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, cmp.Or(opts.QueueSize, DefaultQueueSize)),
		active:      make(map[string]bool),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// EnqueueTask queues a task unless one of the same type is already queued or
// running for the same target
func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	key := taskKey(task)

	s.mu.Lock()
	if s.active[key] {
		s.mu.Unlock()
		slog.Debug("Task already pending, skipping", "type", string(task.GetType()), "target", task.GetTarget())
		return nil
	}
	s.active[key] = true
	s.mu.Unlock()

	err := s.push(task)
	if err != nil {
		s.release(task)
	}
	return err
}

func (s *Scheduler) push(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

func (s *Scheduler) release(task TaskInterface) {
	s.mu.Lock()
	delete(s.active, taskKey(task))
	s.mu.Unlock()
}

func taskKey(task TaskInterface) string {
	return string(task.GetType()) + ":" + task.GetTarget()
}

func (s *Scheduler) enqueueStartupTasks() {
	feedConfigs := s.deps.Registry.List()
	if len(feedConfigs) == 0 {
		slog.Debug("No feed configurations found")
		return
	}

	slog.Debug("Processing feed configurations", "count", len(feedConfigs))

	for _, feedConfig := range feedConfigs {
		// Executed inline so the feed row exists before the first fetch records health
		if err := NewSyncFeedConfigTask(feedConfig, s.deps.FeedRepo).Execute(s.ctx); err != nil {
			slog.Warn("Failed to sync feed config", "feed", feedConfig.Name, "error", err)
			continue
		}

		if !feedConfig.Settings.Enabled {
			slog.Debug("Feed disabled, skipping ProcessFeedTask", "feed", feedConfig.Name)
			continue
		}

		if err := s.EnqueueTask(NewProcessFeedTask(feedConfig, s.deps, s.userAgent)); err != nil {
			slog.Warn("Failed to enqueue ProcessFeedTask", "feed", feedConfig.Name, "error", err)
		}
	}
}

func (s *Scheduler) enqueueTasks() {
	feedConfigs := s.deps.Registry.Enabled()
	if len(feedConfigs) == 0 {
		slog.Debug("No enabled feed configurations found")
		return
	}

	now := time.Now().UTC()
	for _, feedConfig := range feedConfigs {
		f, err := s.deps.FeedRepo.GetFeed(s.ctx, feedConfig.Name)
		if err != nil {
			slog.Warn("Failed to get feed from database, skipping", "feed", feedConfig.Name, "error", err)
			continue
		}
		if f == nil {
			slog.Warn("Feed not found in database, skipping", "feed", feedConfig.Name)
			continue
		}

		if f.NextFetchAt != nil && f.NextFetchAt.After(now) {
			slog.Debug("Feed not due for refresh yet", "feed", feedConfig.Name, "next_fetch_at", f.NextFetchAt)
			continue
		}

		if err := s.EnqueueTask(NewProcessFeedTask(feedConfig, s.deps, s.userAgent)); err != nil {
			slog.Warn("Failed to enqueue ProcessFeedTask", "feed", feedConfig.Name, "error", err)
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		s.release(task)
		s.deps.Metrics.TasksProcessed.WithLabelValues(string(task.GetType()), "success").Inc()
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		s.release(task)
		s.deps.Metrics.TasksProcessed.WithLabelValues(string(task.GetType()), "failed").Inc()
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	s.deps.Metrics.TasksProcessed.WithLabelValues(string(task.GetType()), "retry").Inc()
	task.IncrementRetryCount()
	retryDelay := min(time.Duration(1<<uint(task.GetRetryCount()-1))*time.Second, 30*time.Second)

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "target", task.GetTarget(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

	// The task keeps its active slot while waiting, so it is pushed directly
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-time.After(retryDelay):
		case <-s.ctx.Done():
			s.release(task)
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			return
		}

		if retryErr := s.push(task); retryErr != nil {
			s.release(task)
			slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
		}
	}()
}
