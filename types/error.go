package types

import "fmt"

// ErrorCode represents a unified error code across the orchestration core.
type ErrorCode string

// Envelope and bus error codes
const (
	ErrValidation  ErrorCode = "VALIDATION"
	ErrDelivery    ErrorCode = "DELIVERY"
	ErrBusClosed   ErrorCode = "BUS_CLOSED"
	ErrTransport   ErrorCode = "TRANSPORT"
	ErrUnknownType ErrorCode = "UNKNOWN_TYPE"
)

// Resilience error codes
const (
	ErrCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	ErrRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	ErrTimeout          ErrorCode = "TIMEOUT"
)

// Workflow and persistence error codes
const (
	ErrWorkflowNode ErrorCode = "WORKFLOW_NODE"
	ErrPersistence  ErrorCode = "PERSISTENCE"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrConfig       ErrorCode = "CONFIG"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithComponent sets the originating component name.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
