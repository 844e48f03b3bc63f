package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Protocol
	ErrCodeDecode         ErrorCode = "DECODE_ERROR"
	ErrCodeTransport      ErrorCode = "TRANSPORT_ERROR"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeRemoteSigner   ErrorCode = "REMOTE_SIGNER_ERROR"
	ErrCodeCancelled      ErrorCode = "CANCELLED"
	ErrCodeNotConnected   ErrorCode = "NOT_CONNECTED"
	ErrCodeStorageFault   ErrorCode = "STORAGE_FAULT"
	ErrCodeInvalidPairing ErrorCode = "INVALID_PAIRING_URI"

	// Authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Matching is by code, so any AppError carrying the
// same code matches regardless of message or cause.
var (
	ErrDecode       = New(ErrCodeDecode, "envelope could not be decoded")
	ErrTransport    = New(ErrCodeTransport, "envelope could not be delivered")
	ErrTimeout      = New(ErrCodeTimeout, "no response before deadline")
	ErrRemoteSigner = New(ErrCodeRemoteSigner, "remote signer reported failure")
	ErrCancelled    = New(ErrCodeCancelled, "request cancelled")
	ErrNotConnected = New(ErrCodeNotConnected, "session is not active")
	ErrStorageFault = New(ErrCodeStorageFault, "storage fault")
	ErrNotFound     = New(ErrCodeNotFound, "not found")
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Decode(message string, cause error) *AppError {
	return Wrap(ErrCodeDecode, message, cause)
}

func Transport(message string, cause error) *AppError {
	return Wrap(ErrCodeTransport, message, cause)
}

func Timeout(method string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("No response to %s before deadline", method))
}

// RemoteSigner carries the reason reported by the remote signer verbatim.
func RemoteSigner(reason string) *AppError {
	return New(ErrCodeRemoteSigner, reason)
}

func Cancelled(message string) *AppError {
	return New(ErrCodeCancelled, message)
}

func NotConnected(sessionID string) *AppError {
	return New(ErrCodeNotConnected, fmt.Sprintf("Session %s is not active", sessionID))
}

func StorageFault(message string, cause error) *AppError {
	return Wrap(ErrCodeStorageFault, message, cause)
}

func InvalidPairing(reason string) *AppError {
	return New(ErrCodeInvalidPairing, fmt.Sprintf("Invalid pairing URI: %s", reason))
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
