package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS progress_records (
    instance_key TEXT PRIMARY KEY,
    payload JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresProgressRepository stores progress blobs in PostgreSQL, for
// deployments where several bot replicas share state.
type PostgresProgressRepository struct {
	db *sql.DB
}

func NewPostgresProgressRepository(ctx context.Context, dsn string) (*PostgresProgressRepository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open postgres: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("could not reach postgres: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, postgresSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("could not create schema: %w", err)
	}

	return &PostgresProgressRepository{db: sqlDB}, nil
}

func (r *PostgresProgressRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT payload FROM progress_records WHERE instance_key = $1
	`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("progress %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (r *PostgresProgressRepository) Put(ctx context.Context, key string, payload []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO progress_records (instance_key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (instance_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, key, string(payload))
	return err
}

func (r *PostgresProgressRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM progress_records WHERE instance_key = $1`, key)
	return err
}

func (r *PostgresProgressRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM progress_records`).Scan(&n)
	return n, err
}

func (r *PostgresProgressRepository) Close() error {
	return r.db.Close()
}
