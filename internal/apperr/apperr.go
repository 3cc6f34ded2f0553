// Package apperr defines the stable error-code taxonomy returned to
// clients, separate from the internal sentinel errors each package
// defines for its own control flow.
package apperr

import "net/http"

// Code is a stable identifier a client can branch on; the Message text
// is not.
type Code string

const (
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeForbidden              Code = "FORBIDDEN"
	CodeNotFound               Code = "NOT_FOUND"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeDependencyUnavailable  Code = "DEPENDENCY_UNAVAILABLE"
	CodeInternal               Code = "INTERNAL"
)

// Error is the shape returned to callers as {error_code, message}. It
// never carries PII in Message.
type Error struct {
	Code       Code   `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	RetryAfter int    `json:"-"` // seconds, only meaningful for RateLimited
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func New(code Code, status int, message string) *Error {
	return &Error{Code: code, HTTPStatus: status, Message: message}
}

func InvalidRequest(message string) *Error {
	return New(CodeInvalidRequest, http.StatusBadRequest, message)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, http.StatusUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(CodeForbidden, http.StatusForbidden, message)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, http.StatusNotFound, message)
}

func RateLimited(message string, retryAfterSeconds int) *Error {
	e := New(CodeRateLimited, http.StatusTooManyRequests, message)
	e.RetryAfter = retryAfterSeconds
	return e
}

func DependencyUnavailable(message string) *Error {
	return New(CodeDependencyUnavailable, http.StatusServiceUnavailable, message)
}

func Internal(message string) *Error {
	return New(CodeInternal, http.StatusInternalServerError, message)
}
