package convo

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes SDK errors.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Write-boundary rejections
	ErrorWriteRejected
	ErrorUnauthorized
	ErrorNotFound

	// Pagination
	ErrorStaleCursor

	// Client-side
	ErrorTransport
	ErrorNotConnected
	ErrorSerialization
	ErrorTokenCollision
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorWriteRejected:
		return "write_rejected"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorNotFound:
		return "not_found"
	case ErrorStaleCursor:
		return "stale_cursor"
	case ErrorTransport:
		return "transport_error"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorTokenCollision:
		return "token_collision"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ConvoError is a structured error with code and context.
type ConvoError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

func (e *ConvoError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ConvoError) Unwrap() error {
	return e.Wrapped
}

// Is matches on code so callers can compare with errors.Is.
func (e *ConvoError) Is(target error) bool {
	t, ok := target.(*ConvoError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewError(code ErrorCode, message string) *ConvoError {
	return &ConvoError{Code: code, Message: message}
}

func WrapError(code ErrorCode, message string, err error) *ConvoError {
	return &ConvoError{Code: code, Message: message, Wrapped: err}
}

// CodeOf extracts the ErrorCode from err, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var ce *ConvoError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrorUnknown
}

// IsWriteRejected reports whether err is a write-boundary rejection.
func IsWriteRejected(err error) bool {
	return CodeOf(err) == ErrorWriteRejected
}

// IsStaleCursor reports whether pagination must restart from the live head.
func IsStaleCursor(err error) bool {
	return CodeOf(err) == ErrorStaleCursor
}

func codeFromAPI(status int, apiCode string) ErrorCode {
	switch apiCode {
	case "write_rejected":
		return ErrorWriteRejected
	case "stale_cursor":
		return ErrorStaleCursor
	case "not_found":
		return ErrorNotFound
	}
	switch status {
	case 401, 403:
		return ErrorUnauthorized
	case 404:
		return ErrorNotFound
	case 410:
		return ErrorStaleCursor
	case 422:
		return ErrorWriteRejected
	}
	return ErrorUnknown
}
