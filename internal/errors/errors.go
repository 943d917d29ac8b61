package errors

import (
	"fmt"
)

// IndexError is the structured error type for blogidx.
// It provides rich context for error handling, logging, and the HTTP
// error shape {error_kind, message, details?}.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_301_LEDGER_CORRUPT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is the error kind (config, load, ledger, ...).
	Kind Kind

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with IndexError.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new IndexError with the given code and message.
// Kind, severity, and the retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Kind:      kindFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new IndexError with a formatted message.
func Newf(code string, format string, args ...any) *IndexError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an IndexError from an existing error.
// The error's message becomes the IndexError message.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// LoadError creates a document-load error.
func LoadError(message string, cause error) *IndexError {
	return New(ErrCodeFileUnreadable, message, cause)
}

// LedgerError creates a ledger-related error.
func LedgerError(message string, cause error) *IndexError {
	return New(ErrCodeLedgerWrite, message, cause)
}

// EmbeddingError creates an embedding-provider error.
// Embedding errors are typically retryable.
func EmbeddingError(message string, cause error) *IndexError {
	return New(ErrCodeEmbedFailed, message, cause)
}

// StoreError creates a vector-store error.
func StoreError(message string, cause error) *IndexError {
	return New(ErrCodeStoreAdd, message, cause)
}

// ScheduleError creates a scheduler-related error.
func ScheduleError(message string, cause error) *IndexError {
	return New(ErrCodeTriggerInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an IndexError with the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ie, ok := err.(*IndexError); ok {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ie, ok := err.(*IndexError); ok {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an IndexError.
// Returns empty string if not an IndexError.
func GetCode(err error) string {
	if ie, ok := err.(*IndexError); ok {
		return ie.Code
	}
	return ""
}

// GetKind extracts the kind from an error chain.
// Non-IndexError values map to KindInternal.
func GetKind(err error) Kind {
	if err == nil {
		return ""
	}
	if ie, ok := err.(*IndexError); ok {
		return ie.Kind
	}
	return KindInternal
}
