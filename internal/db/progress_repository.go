package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ProgressRepository stores one serialized progress blob per tutorial
// instance in SQLite.
type ProgressRepository struct {
	queue *DBQueue
}

func NewProgressRepository(queue *DBQueue) *ProgressRepository {
	return &ProgressRepository{queue: queue}
}

func (r *ProgressRepository) Get(ctx context.Context, key string) ([]byte, error) {
	return run(ctx, r.queue, func(db *sql.DB) ([]byte, error) {
		var payload string
		err := db.QueryRowContext(ctx, `
			SELECT payload FROM progress_records WHERE instance_key = ?
		`, key).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("progress %s: %w", key, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		return []byte(payload), nil
	})
}

func (r *ProgressRepository) Put(ctx context.Context, key string, payload []byte) error {
	_, err := r.queue.Execute(ctx, func(db *sql.DB) (interface{}, error) {
		_, err := db.ExecContext(ctx, `
			INSERT INTO progress_records (instance_key, payload, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(instance_key) DO UPDATE SET
				payload = excluded.payload,
				updated_at = excluded.updated_at
		`, key, string(payload))
		return nil, err
	})
	return err
}

func (r *ProgressRepository) Delete(ctx context.Context, key string) error {
	_, err := r.queue.Execute(ctx, func(db *sql.DB) (interface{}, error) {
		_, err := db.ExecContext(ctx, `DELETE FROM progress_records WHERE instance_key = ?`, key)
		return nil, err
	})
	return err
}

// Count returns the number of stored tutorial instances.
func (r *ProgressRepository) Count(ctx context.Context) (int, error) {
	return run(ctx, r.queue, func(db *sql.DB) (int, error) {
		var count int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM progress_records`).Scan(&count)
		return count, err
	})
}
