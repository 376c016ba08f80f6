package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable marks failures caused by an external collaborator being
	// unreachable. Retryable: the delivery should be attempted again.
	ErrUnavailable = errors.New("service unavailable")
	// ErrService marks an external service explicitly rejecting the work
	// (unsupported input, model failure). Fatal for the job.
	ErrService = errors.New("service error")
	// ErrValidation marks malformed or missing input. Fatal, never retried.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks misconfiguration detected at runtime.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks missing referenced entities (tracks, artifacts).
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks a stage exceeding its soft time limit.
	ErrTimeout = errors.New("timeout")
	// ErrTransient marks environmental hiccups (store write timeouts and the
	// like). Retryable.
	ErrTransient = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the failure is environmental and worth another
// delivery. Timeouts are deliberately not retryable here: the workflow marks
// them failed so a slow stage cannot loop forever.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTransient)
}

// Reason values surfaced to status queries for failed jobs.
const (
	ReasonTimedOut         = "TimedOut"
	ReasonExhaustedRetries = "ExhaustedRetries"
)

// FailureReason derives the operator-facing reason string for a stage error.
// The raw error text of external services is never exposed verbatim beyond the
// wrapped detail built by Wrap.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return ReasonTimedOut
	default:
		return Details(err)
	}
}

// Details returns the human-readable portion of a wrapped error, trimming the
// sentinel prefix when present.
func Details(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, marker := range []error{ErrUnavailable, ErrService, ErrValidation, ErrConfiguration, ErrNotFound, ErrTimeout, ErrTransient} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
