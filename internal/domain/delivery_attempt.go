package domain

import "time"

// DeliveryAttempt is one row of the append-only audit trail. AttemptNo is
// 1-based and matches the job's attempt_count at the time of the attempt.
type DeliveryAttempt struct {
	ID           string
	JobID        string
	AttemptNo    int
	ResponseCode int
	Succeeded    bool
	ErrorKind    string
	Error        string
	AttemptedAt  time.Time
}
