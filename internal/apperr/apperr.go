// Package apperr classifies service errors so HTTP handlers can map them to
// status codes without inspecting error strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnavailable
	KindForbidden
)

// Error is a classified service error.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

// Message is the safe, user-facing part of the error.
func (e *Error) Message() string { return e.msg }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

func Validation(msg string) *Error             { return newError(KindValidation, msg, nil) }
func NotFound(msg string) *Error               { return newError(KindNotFound, msg, nil) }
func Conflict(msg string) *Error               { return newError(KindConflict, msg, nil) }
func Forbidden(msg string) *Error              { return newError(KindForbidden, msg, nil) }
func Unavailable(msg string, err error) *Error { return newError(KindUnavailable, msg, err) }
func Internal(msg string, err error) *Error    { return newError(KindInternal, msg, err) }

// KindOf extracts the classification of err, defaulting to internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message, or a generic one for
// unclassified errors.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.msg
	}
	return "internal server error"
}

// HTTPStatus maps an error to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
