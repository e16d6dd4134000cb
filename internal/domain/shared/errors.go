// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLockTimeout            = errors.New("lock wait timeout")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "session", "progress", "leaderboard"
	Op      string // Operation that failed, e.g., "Complete", "Refresh"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Session domain errors
var (
	ErrInvalidSessionID    = NewDomainError("session", "Validate", ErrInvalidID, "session id must be a UUID")
	ErrEmptyUserID         = NewDomainError("session", "Validate", ErrEmptyValue, "user id is required")
	ErrEmptySubjectID      = NewDomainError("session", "Validate", ErrEmptyValue, "subject id is required")
	ErrSubjectIDTooLong    = NewDomainError("session", "Validate", ErrValueOutOfRange, "subject id is too long")
	ErrTaskIDTooLong       = NewDomainError("session", "Validate", ErrValueOutOfRange, "task id is too long")
	ErrNonPositiveDuration = NewDomainError("session", "Validate", ErrValueOutOfRange, "session duration must be positive")
	ErrDurationTooLong     = NewDomainError("session", "Validate", ErrValueOutOfRange, "session duration exceeds the allowed maximum")
	ErrDurationMismatch    = NewDomainError("session", "Validate", ErrInvalidInput, "reported duration disagrees with timestamps")
)

// Progress domain errors
var (
	ErrProfileNotFound  = NewDomainError("progress", "Find", ErrNotFound, "profile not found")
	ErrTaskNotFound     = NewDomainError("progress", "LinkTask", ErrNotFound, "task not found for user")
	ErrUserLockTimeout  = NewDomainError("progress", "Lock", ErrLockTimeout, "timed out waiting for per-user lock")
	ErrInvalidDateRange = NewDomainError("progress", "ListSummaries", ErrInvalidInput, "invalid date range")
	ErrInvalidUsername  = NewDomainError("progress", "UpdateSettings", ErrInvalidInput, "username must be 1-64 characters")
	ErrSessionProcessed = NewDomainError("progress", "RecordSession", ErrAlreadyProcessed, "session already processed")
	ErrSessionOwner     = NewDomainError("progress", "RecordSession", ErrInvalidInput, "session id already recorded for another user")
	ErrRetriesExhausted = NewDomainError("progress", "Complete", ErrConcurrentModification, "session completion retries exhausted")
)

// Leaderboard domain errors
var (
	ErrInvalidPeriod       = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "period must be one of week, month, year")
	ErrSnapshotNotFound    = NewDomainError("leaderboard", "Current", ErrNotFound, "no snapshot has been computed for this period")
	ErrEntryNotFound       = NewDomainError("leaderboard", "UserEntry", ErrNotFound, "user is not ranked in this period")
	ErrInvalidRefreshState = NewDomainError("leaderboard", "Transition", ErrStateTransition, "invalid materializer state transition")
	ErrRefreshTimeout      = NewDomainError("leaderboard", "Refresh", ErrTimeout, "leaderboard refresh exceeded its time budget")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConflict checks if the error is a concurrency conflict on a per-user unit.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrLockTimeout)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return IsConflict(err) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
