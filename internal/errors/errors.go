// Package errors provides unified error handling with structured error codes.
package errors

import (
	"fmt"
)

// Code classifies a failure for routing and reporting.
type Code uint8

const (
	CodeUnknown Code = iota
	CodeSearchFailed
	CodeSessionOpen
	CodeCaptureFailed
	CodeWorkerTimeout
	CodeDirectoryUnavailable
	CodeNotConfigured
	CodeConfigInvalid
)

func (c Code) String() string {
	switch c {
	case CodeSearchFailed:
		return "search_failed"
	case CodeSessionOpen:
		return "session_open"
	case CodeCaptureFailed:
		return "capture_failed"
	case CodeWorkerTimeout:
		return "worker_timeout"
	case CodeDirectoryUnavailable:
		return "directory_unavailable"
	case CodeNotConfigured:
		return "not_configured"
	case CodeConfigInvalid:
		return "config_invalid"
	default:
		return "unknown"
	}
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the code from an error, CodeUnknown if untyped.
func CodeOf(err error) Code {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable returns true if the error is potentially transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeCaptureFailed, CodeWorkerTimeout, CodeDirectoryUnavailable:
		return true
	default:
		return false
	}
}
