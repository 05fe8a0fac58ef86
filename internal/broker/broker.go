package broker

import (
	"context"

	"github.com/eci-platform/notifyd/internal/domain"
)

// Handler processes one inbound event. A nil or permanent-classified error
// acknowledges the message; a transient error causes redelivery.
type Handler func(ctx context.Context, ev domain.Event) error

type Consumer interface {
	Start(ctx context.Context, handler Handler) error
	Healthy() bool
	Close() error
}
