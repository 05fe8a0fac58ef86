package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *DB) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS notification_jobs (
			job_id           TEXT PRIMARY KEY,
			source_event_id  TEXT NOT NULL,
			event_type       TEXT NOT NULL,
			channel          TEXT NOT NULL CHECK (channel IN ('EMAIL', 'SMS')),
			recipient        TEXT NOT NULL,
			locale           TEXT NOT NULL DEFAULT 'en',
			template_id      TEXT NOT NULL DEFAULT '',
			rendered_subject TEXT NOT NULL DEFAULT '',
			rendered_body    TEXT NOT NULL DEFAULT '',
			payload          JSONB NOT NULL DEFAULT '{}',
			state            TEXT NOT NULL CHECK (state IN ('PENDING', 'RENDERING', 'SENDING', 'DELIVERED', 'RETRYING', 'FAILED')),
			attempt_count    INT NOT NULL DEFAULT 0,
			last_error       TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_attempt_at  TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
			next_retry_at    TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
		);

		CREATE TABLE IF NOT EXISTS delivery_attempts (
			id            TEXT PRIMARY KEY,
			job_id        TEXT NOT NULL REFERENCES notification_jobs(job_id),
			attempt_no    INT NOT NULL,
			response_code INT NOT NULL DEFAULT 0,
			succeeded     BOOLEAN NOT NULL,
			error_kind    TEXT NOT NULL DEFAULT '',
			error         TEXT NOT NULL DEFAULT '',
			attempted_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_notification_jobs_state ON notification_jobs(state);
		CREATE INDEX IF NOT EXISTS idx_notification_jobs_retry ON notification_jobs(state, next_retry_at);
		CREATE INDEX IF NOT EXISTS idx_notification_jobs_event ON notification_jobs(source_event_id);
		CREATE INDEX IF NOT EXISTS idx_delivery_attempts_job_id ON delivery_attempts(job_id);
	`

	_, err := db.Pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
