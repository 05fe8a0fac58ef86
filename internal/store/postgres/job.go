package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/eci-platform/notifyd/internal/domain"
	"github.com/eci-platform/notifyd/internal/store"
)

type JobStore struct {
	db *DB
}

func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `job_id, source_event_id, event_type, channel, recipient, locale,
	template_id, rendered_subject, rendered_body, payload, state, attempt_count,
	last_error, created_at, last_attempt_at, next_retry_at`

func (s *JobStore) Create(ctx context.Context, job *domain.NotificationJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	query := `
		INSERT INTO notification_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = s.db.Pool.Exec(ctx, query,
		job.ID,
		job.SourceEventID,
		job.EventType,
		job.Channel,
		job.Recipient,
		job.Locale,
		job.TemplateID,
		job.RenderedSubject,
		job.RenderedBody,
		payload,
		job.State,
		job.AttemptCount,
		job.LastError,
		job.CreatedAt,
		job.LastAttemptAt,
		job.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("create notification job: %w", err)
	}
	return nil
}

func (s *JobStore) GetByID(ctx context.Context, id string) (*domain.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs WHERE job_id = $1`
	job, err := scanJob(s.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get notification job: %w", err)
	}
	return job, nil
}

func (s *JobStore) Update(ctx context.Context, job *domain.NotificationJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	query := `
		UPDATE notification_jobs
		SET template_id = $1, rendered_subject = $2, rendered_body = $3, payload = $4,
			state = $5, attempt_count = $6, last_error = $7, last_attempt_at = $8,
			next_retry_at = $9
		WHERE job_id = $10
	`
	tag, err := s.db.Pool.Exec(ctx, query,
		job.TemplateID,
		job.RenderedSubject,
		job.RenderedBody,
		payload,
		job.State,
		job.AttemptCount,
		job.LastError,
		job.LastAttemptAt,
		job.NextRetryAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update notification job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *JobStore) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*domain.NotificationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_jobs
		WHERE state = 'RETRYING' AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2
	`
	rows, err := s.db.Pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Stalled returns non-terminal jobs that are neither RETRYING nor showing
// activity after the cutoff. These are jobs whose in-memory queue entry was
// lost, typically to a crash, and that need re-enqueueing.
func (s *JobStore) Stalled(ctx context.Context, before time.Time, limit int) ([]*domain.NotificationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM notification_jobs
		WHERE state IN ('PENDING', 'RENDERING', 'SENDING')
		  AND GREATEST(created_at, last_attempt_at) <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.db.Pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query stalled jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *JobStore) List(ctx context.Context, filter store.ListFilter) ([]*domain.NotificationJob, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT ` + jobColumns + `
		FROM notification_jobs
		WHERE ($1 = '' OR state = $1)
		  AND ($2 = '' OR event_type = $2)
		  AND ($3 = '' OR channel = $3)
		  AND ($4 = '' OR payload->>'order_id' = $4)
		ORDER BY created_at DESC
		LIMIT $5
	`
	rows, err := s.db.Pool.Query(ctx, query, string(filter.State), filter.EventType, string(filter.Channel), filter.OrderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notification jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *JobStore) Stats(ctx context.Context) (*store.JobStats, error) {
	stats := &store.JobStats{
		ByState:     make(map[string]int),
		ByChannel:   make(map[string]int),
		ByEventType: make(map[string]int),
	}

	groupCount := func(column string, dest map[string]int) error {
		rows, err := s.db.Pool.Query(ctx,
			`SELECT `+column+`, COUNT(*) FROM notification_jobs GROUP BY `+column)
		if err != nil {
			return fmt.Errorf("count jobs by %s: %w", column, err)
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				return fmt.Errorf("scan %s count: %w", column, err)
			}
			dest[key] = n
		}
		return rows.Err()
	}

	if err := groupCount("state", stats.ByState); err != nil {
		return nil, err
	}
	if err := groupCount("channel", stats.ByChannel); err != nil {
		return nil, err
	}
	if err := groupCount("event_type", stats.ByEventType); err != nil {
		return nil, err
	}
	for _, n := range stats.ByState {
		stats.Total += n
	}
	return stats, nil
}

func (s *JobStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanJob(row pgx.Row) (*domain.NotificationJob, error) {
	var job domain.NotificationJob
	var payload []byte
	err := row.Scan(
		&job.ID,
		&job.SourceEventID,
		&job.EventType,
		&job.Channel,
		&job.Recipient,
		&job.Locale,
		&job.TemplateID,
		&job.RenderedSubject,
		&job.RenderedBody,
		&payload,
		&job.State,
		&job.AttemptCount,
		&job.LastError,
		&job.CreatedAt,
		&job.LastAttemptAt,
		&job.NextRetryAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal job payload: %w", err)
		}
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*domain.NotificationJob, error) {
	var jobs []*domain.NotificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
