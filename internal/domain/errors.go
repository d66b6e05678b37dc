package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrExtraction indicates that the input document could not be read.
	ErrExtraction = errors.New("extraction failed")

	// ErrTimeout indicates that a stage or an upstream call exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrRateLimited indicates that an upstream source is explicitly throttling.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates a transient upstream failure.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrContextIncomplete indicates that a stage's required input was never populated.
	ErrContextIncomplete = errors.New("context incomplete")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCancelled indicates that an operation was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrFallback accompanies a usable value that was substituted for the
	// real result, such as heuristic fields after an unparseable model answer.
	ErrFallback = errors.New("fallback result")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ExtractionError reports input bytes that are not a parseable document.
type ExtractionError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("document extraction failed: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("document extraction failed: %s", e.Reason)
}

// Is reports whether target is ErrExtraction.
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

// Unwrap returns the underlying cause.
func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports that an operation exceeded its deadline.
type TimeoutError struct {
	Operation string
	After     time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("%s timed out after %s", e.Operation, e.After)
	}
	return fmt.Sprintf("%s timed out", e.Operation)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ServiceError provides details about a transient upstream failure.
type ServiceError struct {
	Service    string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s service error (status %d): %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s service error: %s", e.Service, e.Message)
}

// Is reports whether target is ErrServiceUnavailable.
func (e *ServiceError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// Unwrap returns the underlying cause error.
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// ContextIncompleteError reports a stage whose required input was never populated.
type ContextIncompleteError struct {
	Stage   string
	Missing string
}

// Error implements the error interface.
func (e *ContextIncompleteError) Error() string {
	return fmt.Sprintf("stage %s cannot run: %s is missing", e.Stage, e.Missing)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ContextIncompleteError) Unwrap() error {
	return ErrContextIncomplete
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewExtractionError creates a new ExtractionError.
func NewExtractionError(reason string, cause error) *ExtractionError {
	return &ExtractionError{
		Reason: reason,
		Cause:  cause,
	}
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, after time.Duration) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		After:     after,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewServiceError creates a new ServiceError.
func NewServiceError(service string, statusCode int, message string, cause error) *ServiceError {
	return &ServiceError{
		Service:    service,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewContextIncompleteError creates a new ContextIncompleteError.
func NewContextIncompleteError(stage, missing string) *ContextIncompleteError {
	return &ContextIncompleteError{
		Stage:   stage,
		Missing: missing,
	}
}

// ErrorCategory classifies errors by the recovery policy they call for.
type ErrorCategory int

const (
	// CategoryFatal errors stop the pipeline (unreadable input, missing context).
	CategoryFatal ErrorCategory = iota

	// CategoryTimeout errors are recoverable through the degrade policy.
	CategoryTimeout

	// CategoryRateLimited errors trigger source fallback.
	CategoryRateLimited

	// CategoryTransient errors are retried with backoff, then treated like timeouts.
	CategoryTransient

	// CategoryCancelled marks caller-initiated cancellation; never retried.
	CategoryCancelled
)

// String returns a human-readable name for the category.
func (c ErrorCategory) String() string {
	switch c {
	case CategoryFatal:
		return "fatal"
	case CategoryTimeout:
		return "timeout"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryTransient:
		return "transient"
	case CategoryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps an error onto its ErrorCategory.
//
// Rate limiting is checked before the generic service error so a throttled
// source is never retried. Unrecognized errors are transient.
func Classify(err error) ErrorCategory {
	switch {
	case errors.Is(err, ErrExtraction), errors.Is(err, ErrContextIncomplete), errors.Is(err, ErrInvalidInput):
		return CategoryFatal
	case errors.Is(err, ErrRateLimited):
		return CategoryRateLimited
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return CategoryCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	default:
		return CategoryTransient
	}
}
