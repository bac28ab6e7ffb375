package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"

	// Pipeline outcomes
	ErrorTypeFetch         ErrorType = "fetch_failure"
	ErrorTypeDownload      ErrorType = "download_failure"
	ErrorTypeDuplicate     ErrorType = "duplicate_record"
	ErrorTypeSnapshotLoad  ErrorType = "snapshot_load"
	ErrorTypeSnapshotWrite ErrorType = "snapshot_write"
	ErrorTypePageSource    ErrorType = "page_source"
	ErrorTypeInvalidInput  ErrorType = "invalid_input"

	ErrorTypeUnknown ErrorType = "unknown"
)

// Error is a typed error carrying an optional status code and cause
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Type)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Wrap attaches a type and message to an underlying error
func Wrap(t ErrorType, err error, msg string) *Error {
	return &Error{Type: t, Message: msg, Err: err}
}

// Is reports whether any error in err's tree is an *Error of type t
func Is(err error, t ErrorType) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Type == t {
			return true
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				if Is(inner, t) {
					return true
				}
			}
			return false
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return false
		}
	}
	return false
}

// TypeOf returns the type of the first *Error in err's chain
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsFatal reports whether an error type must terminate a run
func IsFatal(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeSnapshotLoad, ErrorTypeSnapshotWrite, ErrorTypeInvalidInput:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 408, 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}

// FromStatus maps an HTTP status code to a typed error
func FromStatus(statusCode int, msg string) *Error {
	t := ErrorTypeUnknown
	switch {
	case statusCode == 401 || statusCode == 403:
		t = ErrorTypeAuth
	case statusCode == 404 || statusCode == 410:
		t = ErrorTypeNotFound
	case statusCode == 429:
		t = ErrorTypeRateLimit
	case statusCode == 408:
		t = ErrorTypeNetwork
	case statusCode >= 500:
		t = ErrorTypeServerError
	}
	return &Error{Type: t, Message: msg, Code: statusCode}
}
