/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors provides a single structured error type used across the
// gateway so that every component maps the same way onto HTTP status codes,
// JSON-RPC error codes, and client-safe messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for status-code mapping and safe-message
// selection. Keep this list closed: callers switch on it exhaustively.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeAuth          ErrorType = "auth"
	ErrorTypeForbidden     ErrorType = "forbidden"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeDatabase      ErrorType = "database"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeUnknownTool   ErrorType = "unknown_tool"
	ErrorTypeUnknownMethod ErrorType = "unknown_method"
	ErrorTypeParseError    ErrorType = "parse_error"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeUnavailable   ErrorType = "unavailable"
)

// AppError is the structured error carried through the gateway. It is never
// used for ordinary control flow (deny/approval decisions are values); it
// exists for infrastructure faults and request-shape problems.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails mutates e in place and returns it, so callers can chain off of
// a constructor: errors.New(...).WithDetails("...").
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

func statusCodeFor(t ErrorType) int {
	switch t {
	case ErrorTypeValidation, ErrorTypeParseError:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound, ErrorTypeUnknownTool, ErrorTypeUnknownMethod:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeTimeout:
		return http.StatusRequestTimeout
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeDatabase, ErrorTypeNetwork, ErrorTypeInternal:
		return http.StatusInternalServerError
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// JSONRPCCode maps the error to the JSON-RPC 2.0 codes fixed by §4.9/§7 of
// the gateway specification.
func (e *AppError) JSONRPCCode() int {
	switch e.Type {
	case ErrorTypeParseError:
		return -32700
	case ErrorTypeValidation:
		return -32600
	case ErrorTypeUnknownMethod:
		return -32601
	case ErrorTypeUnknownTool:
		return -32602
	case ErrorTypeAuth:
		return -32003
	case ErrorTypeDatabase, ErrorTypeNetwork, ErrorTypeInternal, ErrorTypeUnavailable:
		return -32000
	default:
		return -32000
	}
}

func NewUnavailableError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeUnavailable, fmt.Sprintf("store unavailable: %s", operation))
}

// New creates a bare AppError of the given type.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusCodeFor(t)}
}

// Wrap attaches an underlying cause to a new AppError.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, Cause: cause, StatusCode: statusCodeFor(t)}
}

func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func NewValidationError(message string) *AppError { return New(ErrorTypeValidation, message) }

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeDatabase, fmt.Sprintf("database operation failed: %s", operation))
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError { return New(ErrorTypeAuth, message) }

func NewForbiddenError(message string) *AppError { return New(ErrorTypeForbidden, message) }

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

func NewUnknownToolError(tool string) *AppError {
	return New(ErrorTypeUnknownTool, fmt.Sprintf("unknown tool: %s", tool))
}

func NewUnknownMethodError(method string) *AppError {
	return New(ErrorTypeUnknownMethod, fmt.Sprintf("unknown method: %s", method))
}

func NewParseError(message string) *AppError { return New(ErrorTypeParseError, message) }

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type == t
	}
	return false
}

// GetType returns the AppError's type, or ErrorTypeInternal for any other
// error (including nil-wrapped stdlib errors).
func GetType(err error) ErrorType {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status for err, defaulting to 500.
func GetStatusCode(err error) int {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the generic, client-safe text used in place of
// internal error detail for error types that must not leak internals.
var ErrorMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
}

// SafeErrorMessage returns text safe to return to a caller: validation
// messages pass through verbatim (they describe the caller's own mistake),
// everything else collapses to a generic, type-specific message so internal
// details never leak.
func SafeErrorMessage(err error) string {
	var ae *AppError
	if !errors.As(err, &ae) {
		return "An unexpected error occurred"
	}
	switch ae.Type {
	case ErrorTypeValidation:
		return ae.Message
	case ErrorTypeNotFound, ErrorTypeUnknownTool, ErrorTypeUnknownMethod:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}
