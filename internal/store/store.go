package store

import (
	"context"
	"time"

	"github.com/eci-platform/notifyd/internal/domain"
)

// JobStore persists NotificationJob lifecycle state.
type JobStore interface {
	Create(ctx context.Context, job *domain.NotificationJob) error
	GetByID(ctx context.Context, id string) (*domain.NotificationJob, error)
	Update(ctx context.Context, job *domain.NotificationJob) error
	DueForRetry(ctx context.Context, now time.Time, limit int) ([]*domain.NotificationJob, error)
	Stalled(ctx context.Context, before time.Time, limit int) ([]*domain.NotificationJob, error)
	List(ctx context.Context, filter ListFilter) ([]*domain.NotificationJob, error)
	Stats(ctx context.Context) (*JobStats, error)
	Ping(ctx context.Context) error
}

// ListFilter narrows the management API's job listing. OrderID matches the
// order_id key of the persisted event payload.
type ListFilter struct {
	State     domain.JobState
	EventType string
	Channel   domain.Channel
	OrderID   string
	Limit     int
}

// JobStats are the aggregate counts served by the stats endpoint.
type JobStats struct {
	Total       int
	ByState     map[string]int
	ByChannel   map[string]int
	ByEventType map[string]int
}

// AttemptStore is the append-only delivery audit trail.
type AttemptStore interface {
	Create(ctx context.Context, attempt *domain.DeliveryAttempt) error
	ListByJob(ctx context.Context, jobID string) ([]*domain.DeliveryAttempt, error)
}

type ReservationState string

const (
	ReservationFresh            ReservationState = "FRESH"
	ReservationAlreadyDelivered ReservationState = "ALREADY_DELIVERED"
	ReservationInFlight         ReservationState = "IN_FLIGHT"
)

// Reservation is the outcome of an atomic reserve-or-read on a dedup key.
// JobID refers to the reserving job (the caller's own on FRESH, the prior
// job's otherwise).
type Reservation struct {
	State ReservationState
	JobID string
}

// IdempotencyStore guarantees at-most-one successful delivery per dedup key
// within the retention window. CheckAndReserve must be atomic: two
// concurrent reservations for the same key must not both come back FRESH.
type IdempotencyStore interface {
	CheckAndReserve(ctx context.Context, dedupKey, jobID string) (Reservation, error)
	MarkDelivered(ctx context.Context, dedupKey, jobID string) error
	Release(ctx context.Context, dedupKey string) error
	Ping(ctx context.Context) error
}
