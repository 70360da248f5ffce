package helpers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vote-spin/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type VoteSpinError struct {
	Message string
	Cause   error
}

func (e *VoteSpinError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *VoteSpinError) Unwrap() error {
	return e.Cause
}

// Distinct error types for errors.As checks at the boundaries
type ValidationError struct{ VoteSpinError }
type TransientStoreError struct{ VoteSpinError }
type ConsistencyViolation struct{ VoteSpinError }
type SubscriberWriteError struct{ VoteSpinError }
type UnauthorizedError struct{ VoteSpinError }
type ForbiddenError struct{ VoteSpinError }

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{VoteSpinError{Message: fmt.Sprintf(format, args...)}}
}

func NewTransientStoreError(operation string, cause error) error {
	return &TransientStoreError{VoteSpinError{Message: operation + " failed", Cause: cause}}
}

func NewConsistencyViolation(format string, args ...interface{}) error {
	return &ConsistencyViolation{VoteSpinError{Message: fmt.Sprintf(format, args...)}}
}

func NewSubscriberWriteError(subscriber string, cause error) error {
	return &SubscriberWriteError{VoteSpinError{Message: "write to subscriber " + subscriber + " failed", Cause: cause}}
}

func NewUnauthorizedError(message string) error {
	return &UnauthorizedError{VoteSpinError{Message: message}}
}

func NewForbiddenError(message string) error {
	return &ForbiddenError{VoteSpinError{Message: message}}
}

// -----------------------------------------------------------------------------
// Predicates
// -----------------------------------------------------------------------------

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientStoreError
	return errors.As(err, &target)
}

func IsConsistencyViolation(err error) bool {
	var target *ConsistencyViolation
	return errors.As(err, &target)
}

func IsSubscriberWrite(err error) bool {
	var target *SubscriberWriteError
	return errors.As(err, &target)
}

// -----------------------------------------------------------------------------

// HTTPStatus maps an error onto the status code a caller should see.
func HTTPStatus(err error) int {
	var (
		unauthorized *UnauthorizedError
		forbidden    *ForbiddenError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries times, doubling the delay after
// each transient failure. Any other error is returned immediately.
func RetryWithBackoff[T any](ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		if !IsTransient(err) {
			return zero, err
		}

		lastErr = err
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, err, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, NewTransientStoreError(operation, ctx.Err())
		}
	}

	return zero, lastErr
}
