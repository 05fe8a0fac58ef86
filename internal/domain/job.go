package domain

import "time"

type JobState string

const (
	StatePending   JobState = "PENDING"
	StateRendering JobState = "RENDERING"
	StateSending   JobState = "SENDING"
	StateDelivered JobState = "DELIVERED"
	StateRetrying  JobState = "RETRYING"
	StateFailed    JobState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// CanTransitionTo enforces the job lifecycle: states only move forward,
// except for the RETRYING -> SENDING loop, and terminal states never regress.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case StatePending:
		return next == StateRendering || next == StateFailed
	case StateRendering:
		return next == StateSending || next == StateFailed
	case StateSending:
		return next == StateDelivered || next == StateRetrying || next == StateFailed
	case StateRetrying:
		return next == StateSending || next == StateFailed
	default:
		return false
	}
}

// NotificationJob is the unit of work derived from an Event. It is created
// and mutated only by the dispatch engine; terminal jobs are immutable.
type NotificationJob struct {
	ID            string            `json:"job_id"`
	SourceEventID string            `json:"source_event_id"`
	EventType     string            `json:"event_type"`
	Channel       Channel           `json:"channel"`
	Recipient     string            `json:"recipient"`
	Locale        string            `json:"locale"`
	Payload       map[string]string `json:"payload"`

	TemplateID      string `json:"template_id"`
	RenderedSubject string `json:"rendered_subject"`
	RenderedBody    string `json:"rendered_body"`

	State         JobState  `json:"state"`
	AttemptCount  int       `json:"attempt_count"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt   time.Time `json:"next_retry_at,omitempty"`
}
