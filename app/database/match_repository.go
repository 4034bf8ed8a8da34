package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

var _ MatchRepository = (*SQLMatchRepository)(nil)

// SQLMatchRepository is the bundle match index
type SQLMatchRepository struct {
	db  *DB
	now func() time.Time
}

func NewMatchRepository(db *DB) *SQLMatchRepository {
	return &SQLMatchRepository{db: db, now: time.Now}
}

const matchColumns = `bundle_id, feed_id, item_id, url, title, snippet, thumbnail, feed_title, feed_type,
	publish_date, matched_terms, relevance_score, inserted_at, updated_at`

func scanMatch(row rowScanner) (*BundleMatch, error) {
	var m BundleMatch
	var terms string
	var publishDate, insertedAt, updatedAt int64

	err := row.Scan(&m.BundleID, &m.FeedID, &m.ItemID, &m.URL, &m.Title, &m.Snippet, &m.Thumbnail,
		&m.FeedTitle, &m.FeedType, &publishDate, &terms, &m.RelevanceScore, &insertedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(terms), &m.MatchedTerms); err != nil {
		return nil, fmt.Errorf("failed to decode matched terms: %w", err)
	}

	m.PublishDate = fromMillis(publishDate)
	m.InsertedAt = fromMillis(insertedAt)
	m.UpdatedAt = fromMillis(updatedAt)

	return &m, nil
}

const upsertMatchSQL = `
	INSERT INTO bundle_matches (` + matchColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(bundle_id, feed_id, item_id) DO UPDATE SET
		url = excluded.url,
		title = excluded.title,
		snippet = excluded.snippet,
		thumbnail = excluded.thumbnail,
		publish_date = excluded.publish_date,
		matched_terms = excluded.matched_terms,
		relevance_score = excluded.relevance_score,
		updated_at = excluded.updated_at
`

func (r *SQLMatchRepository) matchArgs(m BundleMatch) ([]any, error) {
	terms, err := json.Marshal(nonNil(m.MatchedTerms))
	if err != nil {
		return nil, fmt.Errorf("failed to encode matched terms: %w", err)
	}

	now := r.now()
	insertedAt := m.InsertedAt
	if insertedAt.IsZero() {
		insertedAt = now
	}

	return []any{m.BundleID, m.FeedID, m.ItemID, m.URL, m.Title, m.Snippet, m.Thumbnail,
		m.FeedTitle, m.FeedType, toMillis(m.PublishDate), string(terms), m.RelevanceScore,
		toMillis(insertedAt), toMillis(now)}, nil
}

// UpsertMatch writes a match keyed by (bundle, feed, item); inserted_at is preserved on update
func (r *SQLMatchRepository) UpsertMatch(ctx context.Context, match BundleMatch) error {
	args, err := r.matchArgs(match)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, upsertMatchSQL, args...); err != nil {
		return fmt.Errorf("failed to upsert bundle match: %w", err)
	}

	return nil
}

// ReplaceBundleMatches rewrites the whole index of one bundle
func (r *SQLMatchRepository) ReplaceBundleMatches(ctx context.Context, bundleID string, matches []BundleMatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin match replacement: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bundle_matches WHERE bundle_id = ?`, bundleID); err != nil {
		return fmt.Errorf("failed to clear bundle matches: %w", err)
	}

	for _, m := range matches {
		m.BundleID = bundleID
		args, err := r.matchArgs(m)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertMatchSQL, args...); err != nil {
			return fmt.Errorf("failed to insert bundle match: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match replacement: %w", err)
	}

	return nil
}

// ListMatches returns a bundle's matches by score, then publish date, then item id
func (r *SQLMatchRepository) ListMatches(ctx context.Context, bundleID string, limit int) ([]BundleMatch, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+matchColumns+`
		FROM bundle_matches
		WHERE bundle_id = ?
		ORDER BY relevance_score DESC, publish_date DESC, item_id
		LIMIT ?
	`, bundleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundle matches: %w", err)
	}
	defer rows.Close()

	var matches []BundleMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", err)
		}
		matches = append(matches, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating match rows: %w", err)
	}

	return matches, nil
}

func (r *SQLMatchRepository) DeleteMatchesByURL(ctx context.Context, bundleID, url string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bundle_matches WHERE bundle_id = ? AND url = ?`, bundleID, url)
	if err != nil {
		return 0, fmt.Errorf("failed to delete bundle matches: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLMatchRepository) GetMatchCount(ctx context.Context, bundleID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bundle_matches WHERE bundle_id = ?", bundleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get match count: %w", err)
	}
	return count, nil
}
