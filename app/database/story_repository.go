package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

var _ StoryRepository = (*SQLStoryRepository)(nil)

// SQLStoryRepository persists deduplicated story records
type SQLStoryRepository struct {
	db *DB
}

func NewStoryRepository(db *DB) *SQLStoryRepository {
	return &SQLStoryRepository{db: db}
}

const storyColumns = `id, feed_id, feed_title, feed_type, guid, title, url, snippet, body, author,
	categories, thumbnail, metrics, publish_date, first_seen_at, last_seen_at`

func scanStory(row rowScanner) (*StoryRecord, error) {
	var s StoryRecord
	var categories string
	var metrics sql.NullString
	var publishDate, firstSeen, lastSeen int64

	err := row.Scan(&s.ID, &s.FeedID, &s.FeedTitle, &s.FeedType, &s.GUID, &s.Title, &s.URL,
		&s.Snippet, &s.Body, &s.Author, &categories, &s.Thumbnail, &metrics,
		&publishDate, &firstSeen, &lastSeen)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(categories), &s.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories of story %s: %w", s.ID, err)
	}
	if metrics.Valid && metrics.String != "" {
		if err := json.Unmarshal([]byte(metrics.String), &s.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics of story %s: %w", s.ID, err)
		}
	}

	s.PublishDate = fromMillis(publishDate)
	s.FirstSeenAt = fromMillis(firstSeen)
	s.LastSeenAt = fromMillis(lastSeen)

	return &s, nil
}

// UpsertStories inserts unseen records and refreshes last_seen_at (and metrics) of known ones.
// The whole slice is written in one transaction.
func (r *SQLStoryRepository) UpsertStories(ctx context.Context, records []StoryRecord) ([]bool, error) {
	if len(records) > MaxBatchOps {
		return nil, fmt.Errorf("batch of %d stories exceeds limit of %d", len(records), MaxBatchOps)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin story batch: %w", err)
	}
	defer tx.Rollback()

	created := make([]bool, len(records))

	for i, s := range records {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM stories WHERE id = ?`, s.ID).Scan(&exists)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to check story %s: %w", s.ID, err)
		}

		metrics, err := encodeMetrics(s.Metrics)
		if err != nil {
			return nil, err
		}

		if exists == 1 {
			_, err = tx.ExecContext(ctx, `
				UPDATE stories
				SET last_seen_at = ?, metrics = COALESCE(?, metrics)
				WHERE id = ?
			`, toMillis(s.LastSeenAt), metrics, s.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to refresh story %s: %w", s.ID, err)
			}
			continue
		}

		categories, err := json.Marshal(nonNil(s.Categories))
		if err != nil {
			return nil, fmt.Errorf("failed to encode categories: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stories (`+storyColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.ID, s.FeedID, s.FeedTitle, s.FeedType, s.GUID, s.Title, s.URL, s.Snippet, s.Body, s.Author,
			string(categories), s.Thumbnail, metrics,
			toMillis(s.PublishDate), toMillis(s.FirstSeenAt), toMillis(s.LastSeenAt))
		if err != nil {
			return nil, fmt.Errorf("failed to insert story %s: %w", s.ID, err)
		}
		created[i] = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit story batch: %w", err)
	}

	return created, nil
}

func (r *SQLStoryRepository) GetStory(ctx context.Context, id string) (*StoryRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)

	story, err := scanStory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story: %w", err)
	}

	return story, nil
}

// ListStoriesSince returns one page of the stories first ingested at or after since,
// newest first. A zero cursor starts at the newest story; pass the cursor of the last
// returned story to continue.
func (r *SQLStoryRepository) ListStoriesSince(ctx context.Context, since time.Time, after StoryCursor, limit int) ([]StoryRecord, error) {
	if limit <= 0 {
		limit = DefaultStoryPageSize
	}

	query := `
		SELECT ` + storyColumns + `
		FROM stories
		WHERE first_seen_at >= ?`
	args := []any{toMillis(since)}

	if !after.IsZero() {
		query += ` AND (first_seen_at < ? OR (first_seen_at = ? AND id > ?))`
		firstSeen := toMillis(after.FirstSeenAt)
		args = append(args, firstSeen, firstSeen, after.ID)
	}

	query += `
		ORDER BY first_seen_at DESC, id
		LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer rows.Close()

	var stories []StoryRecord
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story row: %w", err)
		}
		stories = append(stories, *story)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating story rows: %w", err)
	}

	return stories, nil
}

// DeleteStoriesNotSeenSince removes stale stories and the matches that reference them
func (r *SQLStoryRepository) DeleteStoriesNotSeenSince(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin retention sweep: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM bundle_matches
		WHERE item_id IN (SELECT id FROM stories WHERE last_seen_at < ?)
	`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete matches of stale stories: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM stories WHERE last_seen_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale stories: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted stories: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit retention sweep: %w", err)
	}

	return deleted, nil
}

func (r *SQLStoryRepository) GetStoryCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stories").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get story count: %w", err)
	}
	return count, nil
}

func encodeMetrics(metrics map[string]float64) (sql.NullString, error) {
	if len(metrics) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(metrics)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode metrics: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
