package provider

import (
	"context"

	"github.com/eci-platform/notifyd/internal/domain"
)

type Status int

const (
	StatusSuccess Status = iota
	StatusRetryable
	StatusPermanent
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusRetryable:
		return "RETRYABLE_FAILURE"
	default:
		return "PERMANENT_FAILURE"
	}
}

// Result is the classified outcome of exactly one external send attempt.
// Providers never leak raw transport errors: Detail is informational only
// and the engine's retry decision depends solely on Status.
type Result struct {
	Status Status
	Code   int
	Detail string
}

type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Provider sends a rendered message through an external transport. One call
// is one send attempt; retries belong to the engine, so backoff policy stays
// in one place.
type Provider interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg Message) Result
}
