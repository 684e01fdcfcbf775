package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"diagnostics-proxy/internal/access"
	"diagnostics-proxy/internal/query"
)

// Code is the caller-visible error code.
type Code string

const (
	CodeUnauthenticated       Code = "unauthenticated"
	CodeForbiddenRole         Code = Code(access.ReasonForbiddenRole)
	CodePermissionUnavailable Code = Code(access.ReasonPermissionUnavailable)
	CodePermissionCheckFailed Code = Code(access.ReasonPermissionCheckFailed)
	CodeForbiddenPermission   Code = Code(access.ReasonForbiddenPermission)
	CodeRateLimited           Code = "rate_limited"
	CodeInvalidPayload        Code = "invalid_payload"
	CodeNotFound              Code = "not_found"
	CodeUpstream              Code = "upstream_error"
	CodeInternal              Code = "internal_error"
)

// Error is a terminal request failure with a machine-readable code.
type Error struct {
	Code         Code   `json:"code"`
	Message      string `json:"message"`
	Field        string `json:"field,omitempty"`
	Setting      string `json:"setting,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`

	Err error `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the code to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbiddenRole, CodeForbiddenPermission:
		return http.StatusForbidden
	case CodePermissionUnavailable, CodePermissionCheckFailed:
		return http.StatusServiceUnavailable
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeInvalidPayload:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Invalid builds an invalid_payload error for field.
func Invalid(field, msg string) *Error {
	return &Error{Code: CodeInvalidPayload, Message: msg, Field: field}
}

// NotFound builds a not_found error.
func NotFound(msg string) *Error { return newError(CodeNotFound, msg, nil) }

// Unauthenticated builds the error returned before the pipeline runs.
func Unauthenticated(msg string) *Error { return newError(CodeUnauthenticated, msg, nil) }

var denialMessages = map[access.Reason]string{
	access.ReasonForbiddenRole:         "your role is not allowed to use diagnostics",
	access.ReasonPermissionUnavailable: "permission service is unavailable",
	access.ReasonPermissionCheckFailed: "permission check failed",
	access.ReasonForbiddenPermission:   "you do not have the required permission",
}

func denied(reason access.Reason) *Error {
	msg, ok := denialMessages[reason]
	if !ok {
		msg = "access denied"
	}
	return newError(Code(reason), msg, nil)
}

// AsError converts any error into an *Error. Validation errors become
// invalid_payload; deadline errors and anything unknown keep their meaning
// as upstream or internal failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	var ve *query.ValidationError
	if errors.As(err, &ve) {
		return &Error{Code: CodeInvalidPayload, Message: ve.Detail, Field: ve.Field, Setting: ve.Setting, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeUpstream, "upstream call timed out", err)
	}
	return newError(CodeInternal, "internal error", err)
}
