package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the engine can observe. The retry
// decision depends solely on this classification; raw transport errors
// never cross the provider boundary.
type ErrorKind string

const (
	KindValidation       ErrorKind = "VALIDATION_ERROR"
	KindUnknownEventType ErrorKind = "UNKNOWN_EVENT_TYPE"
	KindTemplateNotFound ErrorKind = "TEMPLATE_NOT_FOUND"
	KindMissingVariable  ErrorKind = "MISSING_VARIABLE"
	KindRetryable        ErrorKind = "RETRYABLE_FAILURE"
	KindPermanent        ErrorKind = "PERMANENT_FAILURE"
	KindExhaustedRetries ErrorKind = "EXHAUSTED_RETRIES"
	KindStoreUnavailable ErrorKind = "STORE_UNAVAILABLE"
)

// ClassifiedError carries an ErrorKind alongside the underlying cause.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func Classify(kind ErrorKind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: err}
}

// KindOf extracts the classification from err, or empty if unclassified.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Permanent reports whether the kind must never be retried.
func (k ErrorKind) Permanent() bool {
	switch k {
	case KindValidation, KindUnknownEventType, KindTemplateNotFound,
		KindMissingVariable, KindPermanent, KindExhaustedRetries:
		return true
	default:
		return false
	}
}

var (
	// ErrAlreadyDelivered signals an idempotent re-submission: the returned
	// job ID refers to the job that already delivered for the dedup key.
	ErrAlreadyDelivered = errors.New("notification already delivered")

	// ErrJobNotFound is returned by stores for unknown job IDs.
	ErrJobNotFound = errors.New("notification job not found")
)
