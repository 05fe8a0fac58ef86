package postgres

import (
	"context"
	"fmt"

	"github.com/eci-platform/notifyd/internal/domain"
)

type AttemptStore struct {
	db *DB
}

func NewAttemptStore(db *DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) Create(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (id, job_id, attempt_no, response_code, succeeded, error_kind, error, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.Pool.Exec(ctx, query,
		attempt.ID,
		attempt.JobID,
		attempt.AttemptNo,
		attempt.ResponseCode,
		attempt.Succeeded,
		attempt.ErrorKind,
		attempt.Error,
		attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) ListByJob(ctx context.Context, jobID string) ([]*domain.DeliveryAttempt, error) {
	query := `
		SELECT id, job_id, attempt_no, response_code, succeeded, error_kind, error, attempted_at
		FROM delivery_attempts
		WHERE job_id = $1
		ORDER BY attempt_no ASC
	`
	rows, err := s.db.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.DeliveryAttempt
	for rows.Next() {
		var a domain.DeliveryAttempt
		err := rows.Scan(
			&a.ID,
			&a.JobID,
			&a.AttemptNo,
			&a.ResponseCode,
			&a.Succeeded,
			&a.ErrorKind,
			&a.Error,
			&a.AttemptedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
