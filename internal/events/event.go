package events

import (
	"time"

	"github.com/eci-platform/notifyd/internal/domain"
)

// DeliveryEvent is emitted by the dispatch engine on every job state
// change. Subscribers (metrics, streaming clients) consume it in-process.
type DeliveryEvent struct {
	JobID     string
	EventID   string
	EventType string
	Channel   domain.Channel
	State     domain.JobState
	ErrorKind domain.ErrorKind
	Attempt   int
	Timestamp time.Time
}
