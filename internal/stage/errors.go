package stage

import (
	"context"
	"errors"

	"stemfuse/internal/services"
)

// Kind classifies a stage failure for routing decisions.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindService     Kind = "service"
	KindUnavailable Kind = "unavailable"
	KindTimeout     Kind = "timeout"
	KindTransient   Kind = "transient"
	KindInternal    Kind = "internal"
)

// Error is the structured failure a stage invocation resolves to.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Classify maps any error returned by a stage into a structured Error using
// the services sentinel taxonomy. Context cancellation from a soft time limit
// classifies as a timeout.
func Classify(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, services.ErrTimeout):
		return &Error{Kind: KindTimeout, Message: services.ReasonTimedOut, Retryable: false}
	case errors.Is(err, services.ErrUnavailable):
		return &Error{Kind: KindUnavailable, Message: services.Details(err), Retryable: true}
	case errors.Is(err, services.ErrTransient):
		return &Error{Kind: KindTransient, Message: services.Details(err), Retryable: true}
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrConfiguration):
		return &Error{Kind: KindValidation, Message: services.Details(err), Retryable: false}
	case errors.Is(err, services.ErrService):
		return &Error{Kind: KindService, Message: services.Details(err), Retryable: false}
	default:
		return &Error{Kind: KindInternal, Message: err.Error(), Retryable: false}
	}
}
