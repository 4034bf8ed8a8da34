package database

import (
	"context"
	"fmt"
	"time"
)

var _ TombstoneRepository = (*SQLTombstoneRepository)(nil)

type SQLTombstoneRepository struct {
	db  *DB
	now func() time.Time
}

func NewTombstoneRepository(db *DB) *SQLTombstoneRepository {
	return &SQLTombstoneRepository{db: db, now: time.Now}
}

func (r *SQLTombstoneRepository) InsertTombstone(ctx context.Context, t Tombstone) (bool, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin tombstone insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tombstones (story_url, bundle_id, actor_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(story_url, bundle_id) DO NOTHING
	`, t.StoryURL, t.BundleID, t.ActorID, toMillis(t.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert tombstone: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read tombstone insert result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bundle_matches WHERE bundle_id = ? AND url = ?`, t.BundleID, t.StoryURL); err != nil {
		return false, fmt.Errorf("failed to delete tombstoned matches: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit tombstone: %w", err)
	}

	return inserted > 0, nil
}

func (r *SQLTombstoneRepository) IsTombstoned(ctx context.Context, url, bundleID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tombstones WHERE story_url = ? AND bundle_id = ?
	`, url, bundleID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check tombstone: %w", err)
	}
	return count > 0, nil
}

func (r *SQLTombstoneRepository) ListTombstones(ctx context.Context, bundleID string) ([]Tombstone, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT story_url, bundle_id, actor_id, created_at
		FROM tombstones
		WHERE bundle_id = ?
		ORDER BY created_at, story_url
	`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	defer rows.Close()

	var tombstones []Tombstone
	for rows.Next() {
		var t Tombstone
		var createdAt int64
		if err := rows.Scan(&t.StoryURL, &t.BundleID, &t.ActorID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone row: %w", err)
		}
		t.CreatedAt = fromMillis(createdAt)
		tombstones = append(tombstones, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tombstone rows: %w", err)
	}

	return tombstones, nil
}

func (r *SQLTombstoneRepository) DeleteTombstone(ctx context.Context, url, bundleID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tombstones WHERE story_url = ? AND bundle_id = ?`, url, bundleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete tombstone: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read tombstone delete result: %w", err)
	}

	return deleted > 0, nil
}
