// Package core holds the shared error taxonomy and evaluation types used by
// every engine, the session manager, and both serving surfaces.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for both logging and HTTP mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInvalidRequestBody
	KindMissingField
	KindSyntaxError
	KindInvalidFilePath
	KindSecurityViolation
	KindCommandBlocked
	KindSessionNotFound
	KindCommandNotFound
	KindSessionAlreadyExists
	KindWrongSessionKind
	KindUserSessionLimit
	KindGlobalSessionLimit
	KindConcurrencyLimit
	KindQueueFull
	KindEvalTimeout
	KindEngineError
	KindProcessCrashed
	KindToolError
	KindNoSolution
	KindResourceLimit
)

// String returns the wire-level error_type identifier.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindInvalidRequestBody:
		return "invalid_request_body"
	case KindMissingField:
		return "missing_field"
	case KindSyntaxError:
		return "syntax_error"
	case KindInvalidFilePath:
		return "invalid_file_path"
	case KindSecurityViolation:
		return "security_violation"
	case KindCommandBlocked:
		return "command_blocked"
	case KindSessionNotFound:
		return "session_not_found"
	case KindCommandNotFound:
		return "command_not_found"
	case KindSessionAlreadyExists:
		return "session_already_exists"
	case KindWrongSessionKind:
		return "wrong_session_kind"
	case KindUserSessionLimit:
		return "user_session_limit"
	case KindGlobalSessionLimit:
		return "global_session_limit"
	case KindConcurrencyLimit:
		return "concurrency_limit"
	case KindQueueFull:
		return "queue_full"
	case KindEvalTimeout:
		return "eval_timeout"
	case KindEngineError:
		return "engine_error"
	case KindProcessCrashed:
		return "process_crashed"
	case KindToolError:
		return "tool_error"
	case KindNoSolution:
		return "no_solution"
	case KindResourceLimit:
		return "resource_limit_exceeded"
	default:
		return "internal_error"
	}
}

// StatusCode returns the fixed HTTP status for the kind.
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation, KindInvalidRequestBody, KindMissingField,
		KindSyntaxError, KindInvalidFilePath:
		return http.StatusBadRequest
	case KindSecurityViolation, KindCommandBlocked:
		return http.StatusForbidden
	case KindSessionNotFound, KindCommandNotFound:
		return http.StatusNotFound
	case KindSessionAlreadyExists, KindWrongSessionKind:
		return http.StatusConflict
	case KindUserSessionLimit, KindGlobalSessionLimit,
		KindConcurrencyLimit, KindQueueFull:
		return http.StatusTooManyRequests
	case KindEvalTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is the service-wide error value. Details is optional free-form
// context safe to surface to clients.
type Error struct {
	Kind    Kind
	Message string
	Details string
	wrapped error
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// NewError builds an Error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying error.
func WrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// WithDetails returns a copy carrying client-visible details.
func (e *Error) WithDetails(format string, args ...any) *Error {
	cp := *e
	cp.Details = fmt.Sprintf(format, args...)
	return &cp
}

// KindOf extracts the taxonomy kind from any error chain. Plain errors
// classify as KindInternal.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == kind
}

// ErrorResponse is the wire shape every surface uses for failures.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	Details   string `json:"details,omitempty"`
	Code      int    `json:"code"`
}

// ToResponse converts any error into the wire shape. Non-taxonomy errors
// map to internal_error without leaking internals beyond the message.
func ToResponse(err error) ErrorResponse {
	var ce *Error
	if errors.As(err, &ce) {
		return ErrorResponse{
			Error:     ce.Message,
			ErrorType: ce.Kind.String(),
			Details:   ce.Details,
			Code:      ce.Kind.StatusCode(),
		}
	}
	return ErrorResponse{
		Error:     err.Error(),
		ErrorType: KindInternal.String(),
		Code:      http.StatusInternalServerError,
	}
}
