package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation    ErrorCategory = "validation"    // Invalid input or config
	ErrCatLock          ErrorCategory = "lock"          // Lock contention or loss
	ErrCatStore         ErrorCategory = "store"         // Lock store unreachable
	ErrCatExecution     ErrorCategory = "execution"     // Fixer unit failure
	ErrCatTimeout       ErrorCategory = "timeout"       // Operation timed out
	ErrCatOrchestration ErrorCategory = "orchestration" // Run-level condition
	ErrCatNotFound      ErrorCategory = "not_found"     // Resource not found
	ErrCatInternal      ErrorCategory = "internal"      // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on category and code, so sentinels below work with errors.Is
// regardless of message or cause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Error codes.
const (
	// Lock errors
	CodeAlreadyHeld      = "LOCK_ALREADY_HELD"
	CodeLockStolen       = "LOCK_STOLEN"
	CodeStoreUnavailable = "LOCK_STORE_UNAVAILABLE"

	// Execution errors
	CodeCrashExit     = "CRASH_EXIT"
	CodeTimedOut      = "TIMED_OUT"
	CodeLaunchFailure = "LAUNCH_FAILURE"
	CodeBadResult     = "BAD_TERMINAL_RESULT"
	CodeUnitFailed    = "UNIT_FAILED"

	// Orchestration errors
	CodeCancelled = "CANCELLED"

	// Validation errors
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeDuplicateItem     = "DUPLICATE_ITEM"
	CodeEmptyItemID       = "EMPTY_ITEM_ID"
)

// Sentinels for errors.Is comparisons.
var (
	ErrLockHeld         = &DomainError{Category: ErrCatLock, Code: CodeAlreadyHeld}
	ErrLockStolen       = &DomainError{Category: ErrCatLock, Code: CodeLockStolen}
	ErrStoreUnavailable = &DomainError{Category: ErrCatStore, Code: CodeStoreUnavailable}
	ErrCancelled        = &DomainError{Category: ErrCatOrchestration, Code: CodeCancelled}
)

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrAlreadyHeld reports that a live lock record exists for resourceID.
func ErrAlreadyHeld(resourceID string) *DomainError {
	return &DomainError{
		Category:  ErrCatLock,
		Code:      CodeAlreadyHeld,
		Message:   fmt.Sprintf("lock on %s is held by another holder", resourceID),
		Retryable: false,
		Details:   map[string]interface{}{"resource_id": resourceID},
	}
}

// ErrStolen reports that the stored record no longer carries the caller's token.
func ErrStolen(resourceID string) *DomainError {
	return &DomainError{
		Category:  ErrCatLock,
		Code:      CodeLockStolen,
		Message:   fmt.Sprintf("lock on %s was taken over by another holder", resourceID),
		Retryable: true,
		Details:   map[string]interface{}{"resource_id": resourceID},
	}
}

// ErrStore wraps a backend failure. Without the store exclusivity cannot be
// guaranteed, so callers must abort rather than continue unlocked.
func ErrStore(op string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatStore,
		Code:      CodeStoreUnavailable,
		Message:   fmt.Sprintf("lock store %s failed", op),
		Retryable: false,
		Cause:     cause,
	}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeTimedOut,
		Message:   message,
		Retryable: true,
	}
}

// ErrCancelledRun creates the error recorded on items interrupted by run cancellation.
func ErrCancelledRun(reason string) *DomainError {
	return &DomainError{
		Category:  ErrCatOrchestration,
		Code:      CodeCancelled,
		Message:   reason,
		Retryable: true,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// GetCode extracts the error code, or "" for non-domain errors.
func GetCode(err error) string {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code
	}
	return ""
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}
