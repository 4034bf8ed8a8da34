package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var _ FeedRepository = (*SQLFeedRepository)(nil)

// SQLFeedRepository handles database operations for feeds
type SQLFeedRepository struct {
	db  *DB
	now func() time.Time
}

// NewFeedRepository creates a new feed repository
func NewFeedRepository(db *DB) *SQLFeedRepository {
	return &SQLFeedRepository{db: db, now: time.Now}
}

const feedColumns = `name, url, title, feed_type, last_fetched_at, next_fetch_at, last_success_at,
	last_error, last_error_at, consecutive_errors, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*Feed, error) {
	var feed Feed
	var lastFetched, nextFetch, lastSuccess, lastErrorAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&feed.Name, &feed.URL, &feed.Title, &feed.FeedType,
		&lastFetched, &nextFetch, &lastSuccess,
		&feed.LastError, &lastErrorAt, &feed.ConsecutiveErrors, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	feed.LastFetchedAt = fromNullMillis(lastFetched)
	feed.NextFetchAt = fromNullMillis(nextFetch)
	feed.LastSuccessAt = fromNullMillis(lastSuccess)
	feed.LastErrorAt = fromNullMillis(lastErrorAt)
	feed.CreatedAt = fromMillis(createdAt)
	feed.UpdatedAt = fromMillis(updatedAt)

	return &feed, nil
}

// UpsertFeed inserts or updates a feed registration
func (r *SQLFeedRepository) UpsertFeed(ctx context.Context, name, url, title, feedType string) error {
	now := toMillis(r.now())

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feeds (name, url, title, feed_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE feeds.title END,
			feed_type = excluded.feed_type,
			updated_at = excluded.updated_at
	`, name, url, title, feedType, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert feed: %w", err)
	}

	return nil
}

// GetFeed retrieves a feed by name, nil if it is not registered
func (r *SQLFeedRepository) GetFeed(ctx context.Context, name string) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE name = ?`, name)

	feed, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}

	return feed, nil
}

func (r *SQLFeedRepository) ListFeeds(ctx context.Context) ([]Feed, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed row: %w", err)
		}
		feeds = append(feeds, *feed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}

	return feeds, nil
}

// GetFeedCount returns the total number of feeds
func (r *SQLFeedRepository) GetFeedCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feeds").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

// UpdateNextFetch records a fetch attempt and schedules the next one
func (r *SQLFeedRepository) UpdateNextFetch(ctx context.Context, name string, fetchedAt, nextFetch time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feeds
		SET last_fetched_at = ?, next_fetch_at = ?, updated_at = ?
		WHERE name = ?
	`, toMillis(fetchedAt), toMillis(nextFetch), toMillis(r.now()), name)
	if err != nil {
		return fmt.Errorf("failed to update next fetch time: %w", err)
	}

	return nil
}

// ApplyHealthBatch writes coalesced health updates, at most MaxBatchOps per transaction.
// Feeds that were never registered get a placeholder row so the status is not lost.
func (r *SQLFeedRepository) ApplyHealthBatch(ctx context.Context, updates []HealthUpdate) error {
	for start := 0; start < len(updates); start += MaxBatchOps {
		end := min(start+MaxBatchOps, len(updates))
		if err := r.applyHealthChunk(ctx, updates[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLFeedRepository) applyHealthChunk(ctx context.Context, updates []HealthUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin health batch: %w", err)
	}
	defer tx.Rollback()

	now := toMillis(r.now())

	for _, u := range updates {
		at := toMillis(u.At)

		if u.Success {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO feeds (name, last_success_at, consecutive_errors, created_at, updated_at)
				VALUES (?, ?, 0, ?, ?)
				ON CONFLICT(name) DO UPDATE SET
					last_success_at = excluded.last_success_at,
					consecutive_errors = 0,
					updated_at = excluded.updated_at
			`, u.FeedID, at, now, now)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO feeds (name, last_error, last_error_at, consecutive_errors, created_at, updated_at)
				VALUES (?, ?, ?, 1, ?, ?)
				ON CONFLICT(name) DO UPDATE SET
					last_error = excluded.last_error,
					last_error_at = excluded.last_error_at,
					consecutive_errors = feeds.consecutive_errors + 1,
					updated_at = excluded.updated_at
			`, u.FeedID, u.Message, at, now, now)
		}
		if err != nil {
			return fmt.Errorf("failed to apply health update for %s: %w", u.FeedID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit health batch: %w", err)
	}

	return nil
}
