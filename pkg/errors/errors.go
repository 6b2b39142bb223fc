// Package errors provides structured error types for cratestatus.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI, the HTTP API and the engine
//   - Machine-readable error codes the rendering and badge layers map to
//     distinct visual states
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Whole-request failures carry one of [ErrCodeFetch], [ErrCodeParse],
// [ErrCodeIndexUnavailable], [ErrCodeAdvisoryUnavailable] or
// [ErrCodeTimeout]. [ErrCodeUnsupportedSource] is per-dependency and is
// recorded in that dependency's status rather than returned.
//
// # Usage
//
//	err := errors.New(errors.ErrCodeParse, "manifest %s: missing [package]", path)
//	if errors.Is(err, errors.ErrCodeParse) {
//	    // Handle malformed manifest
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeFetch, origErr, "fetch %s", path)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput    Code = "INVALID_INPUT"
	ErrCodeInvalidPackage  Code = "INVALID_PACKAGE"
	ErrCodeInvalidManifest Code = "INVALID_MANIFEST"
	ErrCodeInvalidPath     Code = "INVALID_PATH"

	// Analysis pipeline errors
	ErrCodeFetch               Code = "FETCH_ERROR"
	ErrCodeParse               Code = "PARSE_ERROR"
	ErrCodeUnsupportedSource   Code = "UNSUPPORTED_SOURCE"
	ErrCodeIndexUnavailable    Code = "INDEX_UNAVAILABLE"
	ErrCodeAdvisoryUnavailable Code = "ADVISORY_UNAVAILABLE"
	ErrCodeTimeout             Code = "TIMEOUT"
	ErrCodeCanceled            Code = "CANCELED"
	ErrCodeCacheClaimConflict  Code = "CACHE_CLAIM_CONFLICT"

	// Resource not found errors
	ErrCodeNotFound        Code = "NOT_FOUND"
	ErrCodePackageNotFound Code = "PACKAGE_NOT_FOUND"

	// Network errors
	ErrCodeNetwork     Code = "NETWORK_ERROR"
	ErrCodeRateLimited Code = "RATE_LIMITED"

	// Authentication errors
	ErrCodeUnauthorized Code = "UNAUTHORIZED"

	// Internal errors
	ErrCodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode extracts the outermost error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// RateLimitedError provides additional information for rate-limited responses.
type RateLimitedError struct {
	RetryAfter int // Seconds to wait before retrying
	Message    string
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: retry after %d seconds", e.RetryAfter)
	}
	return "rate limited"
}

// Code returns the error code for this error type.
func (e *RateLimitedError) Code() Code {
	return ErrCodeRateLimited
}
