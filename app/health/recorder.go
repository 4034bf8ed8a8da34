package health

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lysyi3m/rss-bundles/app/activity"
	"github.com/lysyi3m/rss-bundles/app/database"
	"github.com/lysyi3m/rss-bundles/app/metrics"
)

const (
	DefaultFlushWindow = 5 * time.Second
	DefaultMaxPending  = 100
)

// BatchWriter persists a batch of health updates
type BatchWriter interface {
	ApplyHealthBatch(ctx context.Context, updates []database.HealthUpdate) error
}

// Recorder coalesces per-feed success and error signals into windowed batch writes.
// Delivery is at most once: a batch whose write fails is dropped.
type Recorder struct {
	store      BatchWriter
	activity   *activity.Log
	metrics    *metrics.Metrics
	window     time.Duration
	maxPending int
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]database.HealthUpdate
	timer   *time.Timer

	// serializes flushes so batches reach the store in order
	flushMu sync.Mutex
}

func NewRecorder(store BatchWriter, activityLog *activity.Log, m *metrics.Metrics, window time.Duration, maxPending int) *Recorder {
	if window <= 0 {
		window = DefaultFlushWindow
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}

	return &Recorder{
		store:      store,
		activity:   activityLog,
		metrics:    m,
		window:     window,
		maxPending: maxPending,
		now:        time.Now,
		pending:    make(map[string]database.HealthUpdate),
	}
}

// QueueSuccess replaces any pending update for the feed
func (r *Recorder) QueueSuccess(feedID string) {
	r.queue(database.HealthUpdate{FeedID: feedID, Success: true, At: r.now()}, true)
}

// QueueError is ignored while the feed already has a pending update, so the
// first diagnostic of a window is the one that gets written.
func (r *Recorder) QueueError(feedID, message string) {
	r.queue(database.HealthUpdate{FeedID: feedID, Message: message, At: r.now()}, false)
}

func (r *Recorder) queue(update database.HealthUpdate, overwrite bool) {
	r.mu.Lock()

	if _, exists := r.pending[update.FeedID]; exists && !overwrite {
		r.mu.Unlock()
		return
	}
	r.pending[update.FeedID] = update

	full := len(r.pending) >= r.maxPending
	if !full && r.timer == nil {
		r.timer = time.AfterFunc(r.window, r.flushOnTimer)
	}
	r.mu.Unlock()

	if full {
		go r.Flush(context.Background())
	}
}

func (r *Recorder) flushOnTimer() {
	if err := r.Flush(context.Background()); err != nil {
		slog.Debug("Timed health flush failed", "error", err)
	}
}

// Pending returns the update currently waiting for a feed
func (r *Recorder) Pending(feedID string) (database.HealthUpdate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.pending[feedID]
	return u, ok
}

func (r *Recorder) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush writes all pending updates as one batch and resets the window
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	batch := r.take()
	if len(batch) == 0 {
		return nil
	}

	if err := r.store.ApplyHealthBatch(ctx, batch); err != nil {
		r.metrics.HealthDropped.Inc()
		r.activity.Error("Health batch dropped", "updates", len(batch), "error", err.Error())
		return fmt.Errorf("failed to flush %d health updates: %w", len(batch), err)
	}

	r.metrics.HealthFlushes.Inc()
	slog.Debug("Health batch flushed", "updates", len(batch))

	return nil
}

// Close stops the window timer and flushes what is left
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	return r.Flush(ctx)
}

func (r *Recorder) take() []database.HealthUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}

	batch := make([]database.HealthUpdate, 0, len(r.pending))
	for _, u := range r.pending {
		batch = append(batch, u)
	}
	clear(r.pending)

	slices.SortFunc(batch, func(a, b database.HealthUpdate) int { return strings.Compare(a.FeedID, b.FeedID) })

	return batch
}
