package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: not_found, timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code.
// This lets callers match the predefined errors below with errors.Is
// regardless of message or cause.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Detail returns a string detail value, or "" if missing.
func (e *ExecutionError) Detail(key string) string {
	if v, ok := e.Details[key].(string); ok {
		return v
	}
	return ""
}

// Predefined errors
var (
	// Lookup errors
	ErrNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "not_found",
		Message:  "element not found",
	}
	ErrStaleElement = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "stale_element",
		Message:  "element is no longer attached to the UI tree",
	}

	// Validation errors
	ErrValidationMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "validation_mismatch",
		Message:  "observed value does not match expected value",
	}
	ErrValidationFailed = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "validation_failed",
		Message:  "validation failed",
	}

	// Timeout errors
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "wait condition timed out",
	}

	// Connection errors
	ErrConnection = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "connection",
		Message:  "could not reach automation server",
	}

	// Config errors
	ErrConfiguration = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "configuration",
		Message:  "invalid configuration",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ErrCategoryUnknown
}

// IsTransient reports whether a lookup error may clear up on a later poll.
// Connection and configuration errors never do.
func IsTransient(err error) bool {
	switch CategoryOf(err) {
	case ErrCategoryConnection, ErrCategoryConfig:
		return false
	}
	return err != nil
}
