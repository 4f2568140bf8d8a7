// Package apperr provides unified error handling for the authority engine.
//
// The engine (internal/authority/engine) is the only layer that translates
// a Code into one of the §4.E denial reasons. The store, cache, bus and
// resilience layers report failures as *Error; the crypto primitives
// return plain errors.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of failure, independent of the human message.
type Code string

const (
	CodeValidation          Code = "validation_error"
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodeRateLimited         Code = "rate_limited"
	CodeDownstreamUnavail   Code = "downstream_unavailable"
	CodeSignature           Code = "signature_error"
	CodeForbidden           Code = "forbidden"
	CodeInternal            Code = "internal_error"
)

// Error is a structured error carrying a stable code, an HTTP status for
// admin-surface translation, and an optional wrapped cause.
type Error struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap allows errors.Is / errors.As to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair for structured logging or API output.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new *Error carrying the default HTTP status for code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: defaultStatus(code)}
}

// Wrap wraps an existing error inside a *Error of the given code.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: defaultStatus(code), Err: err}
}

func defaultStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeDownstreamUnavail:
		return http.StatusServiceUnavailable
	case CodeForbidden:
		return http.StatusForbidden
	case CodeSignature:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
