package errors

import (
	"errors"
	"fmt"
)

// DexError is the structured error type for docdex.
// It provides rich context for error handling, logging, and user presentation.
type DexError struct {
	// Code is the unique error code (e.g., "ERR_601_DOCUMENT_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Validation, NotFound, Conflict, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *DexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with DexError.
func (e *DexError) Is(target error) bool {
	if t, ok := target.(*DexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *DexError) WithDetail(key, value string) *DexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *DexError) WithSuggestion(suggestion string) *DexError {
	e.Suggestion = suggestion
	return e
}

// New creates a new DexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DexError {
	return &DexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new DexError with a formatted message.
func Newf(code string, format string, args ...any) *DexError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a DexError from an existing error.
// The error's message becomes the DexError message.
func Wrap(code string, err error) *DexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates a validation-related error.
// Validation failures are rejected before any mutation.
func ValidationError(message string, cause error) *DexError {
	return New(ErrCodeInvalidInput, message, cause)
}

// NotFound creates a not-found error for the given entity kind and id.
func NotFound(code string, kind, id string) *DexError {
	return New(code, fmt.Sprintf("%s %q not found", kind, id), nil).
		WithDetail(kind+"_id", id)
}

// Conflict creates a conflict error.
func Conflict(code string, message string) *DexError {
	return New(code, message, nil)
}

// ConsistencyError creates a consistency error. These are surfaced to
// the caller and never auto-corrected.
func ConsistencyError(message string) *DexError {
	return New(ErrCodeIndexDrift, message, nil).
		WithSuggestion("run 'docdex doctor' to diagnose and choose a repair strategy")
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *DexError {
	return New(ErrCodeFileNotFound, message, cause)
}

// CorruptionError creates a corruption error for the named file and
// failed invariant, carrying enough detail to choose a repair strategy.
func CorruptionError(code string, file, invariant string, cause error) *DexError {
	return New(code, fmt.Sprintf("%s: %s", file, invariant), cause).
		WithDetail("file", file).
		WithDetail("invariant", invariant)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DexError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var de *DexError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsCategory reports whether err is a DexError of the given category.
func IsCategory(err error, cat Category) bool {
	var de *DexError
	if errors.As(err, &de) {
		return de.Category == cat
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return IsCategory(err, CategoryNotFound) }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return IsCategory(err, CategoryConflict) }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return IsCategory(err, CategoryValidation) }

// IsConsistency reports whether err is a consistency error.
func IsConsistency(err error) bool { return IsCategory(err, CategoryConsistency) }

// GetCode extracts the error code from a DexError.
// Returns empty string if not a DexError.
func GetCode(err error) string {
	var de *DexError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
