package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

var _ CacheRepository = (*SQLCacheRepository)(nil)

// SQLCacheRepository stores bundle cache manifests and their chunk payloads
type SQLCacheRepository struct {
	db *DB
}

func NewCacheRepository(db *DB) *SQLCacheRepository {
	return &SQLCacheRepository{db: db}
}

func (r *SQLCacheRepository) ReplaceCache(ctx context.Context, m CacheManifest, chunks [][]byte) error {
	if len(chunks)+2 > MaxBatchOps {
		return fmt.Errorf("cache of %d chunks exceeds batch limit of %d", len(chunks), MaxBatchOps)
	}

	terms, err := json.Marshal(nonNil(m.SearchTerms))
	if err != nil {
		return fmt.Errorf("failed to encode search terms: %w", err)
	}
	feedIDs, err := json.Marshal(nonNil(m.FeedIDs))
	if err != nil {
		return fmt.Errorf("failed to encode feed ids: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache write: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_chunks WHERE bundle_id = ?`, m.BundleID); err != nil {
		return fmt.Errorf("failed to delete old cache chunks: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_manifests (bundle_id, bundle_title, last_refreshed_at, last_accessed_at,
			story_count, chunk_count, search_terms, feed_ids, max_age_hours, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bundle_id) DO UPDATE SET
			bundle_title = excluded.bundle_title,
			last_refreshed_at = excluded.last_refreshed_at,
			last_accessed_at = excluded.last_accessed_at,
			story_count = excluded.story_count,
			chunk_count = excluded.chunk_count,
			search_terms = excluded.search_terms,
			feed_ids = excluded.feed_ids,
			max_age_hours = excluded.max_age_hours,
			status = excluded.status
	`, m.BundleID, m.BundleTitle, toMillis(m.LastRefreshedAt), toMillis(m.LastAccessedAt),
		m.StoryCount, len(chunks), string(terms), string(feedIDs), m.MaxAgeHours, m.Status)
	if err != nil {
		return fmt.Errorf("failed to write cache manifest: %w", err)
	}

	for i, chunk := range chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cache_chunks (bundle_id, chunk_index, payload, byte_size)
			VALUES (?, ?, ?, ?)
		`, m.BundleID, i, chunk, len(chunk))
		if err != nil {
			return fmt.Errorf("failed to write cache chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache write: %w", err)
	}

	return nil
}

// GetCache returns nil, nil, nil when the bundle has no persisted cache
func (r *SQLCacheRepository) GetCache(ctx context.Context, bundleID string) (*CacheManifest, [][]byte, error) {
	var m CacheManifest
	var terms, feedIDs string
	var refreshedAt, accessedAt int64

	err := r.db.QueryRowContext(ctx, `
		SELECT bundle_id, bundle_title, last_refreshed_at, last_accessed_at, story_count, chunk_count,
			search_terms, feed_ids, max_age_hours, status
		FROM cache_manifests
		WHERE bundle_id = ?
	`, bundleID).Scan(&m.BundleID, &m.BundleTitle, &refreshedAt, &accessedAt, &m.StoryCount,
		&m.ChunkCount, &terms, &feedIDs, &m.MaxAgeHours, &m.Status)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get cache manifest: %w", err)
	}

	if err := json.Unmarshal([]byte(terms), &m.SearchTerms); err != nil {
		return nil, nil, fmt.Errorf("failed to decode search terms: %w", err)
	}
	if err := json.Unmarshal([]byte(feedIDs), &m.FeedIDs); err != nil {
		return nil, nil, fmt.Errorf("failed to decode feed ids: %w", err)
	}
	m.LastRefreshedAt = fromMillis(refreshedAt)
	m.LastAccessedAt = fromMillis(accessedAt)

	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM cache_chunks WHERE bundle_id = ? ORDER BY chunk_index
	`, bundleID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get cache chunks: %w", err)
	}
	defer rows.Close()

	var chunks [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, nil, fmt.Errorf("failed to scan cache chunk: %w", err)
		}
		chunks = append(chunks, payload)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating cache chunks: %w", err)
	}

	if len(chunks) != m.ChunkCount {
		return nil, nil, fmt.Errorf("cache for bundle %s is incomplete: %d of %d chunks", bundleID, len(chunks), m.ChunkCount)
	}

	return &m, chunks, nil
}

func (r *SQLCacheRepository) DeleteCache(ctx context.Context, bundleID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_chunks WHERE bundle_id = ?`, bundleID); err != nil {
		return fmt.Errorf("failed to delete cache chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_manifests WHERE bundle_id = ?`, bundleID); err != nil {
		return fmt.Errorf("failed to delete cache manifest: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache delete: %w", err)
	}

	return nil
}
