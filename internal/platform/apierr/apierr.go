// Package apierr carries an HTTP status and a stable machine-readable code
// alongside an error so handlers can render the error envelope.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeInvalidInput = "invalid_input"
	CodeInvalidID    = "invalid_id"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeInternal     = "internal_error"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil:
		return e.Err.Error()
	case e.Code != "":
		return e.Code
	default:
		return fmt.Sprintf("http %d", e.Status)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func BadRequest(code string, err error) *Error {
	if code == "" {
		code = CodeInvalidInput
	}
	return New(http.StatusBadRequest, code, err)
}

func Unauthorized(err error) *Error { return New(http.StatusUnauthorized, CodeUnauthorized, err) }

func Forbidden(err error) *Error { return New(http.StatusForbidden, CodeForbidden, err) }

func NotFound(err error) *Error { return New(http.StatusNotFound, CodeNotFound, err) }

// Internal hides the cause from clients; the original stays reachable via
// Unwrap for logging.
func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Err: &hidden{cause: err}}
}

type hidden struct{ cause error }

func (h *hidden) Error() string { return "internal error" }
func (h *hidden) Unwrap() error { return h.cause }

// As returns err as an *Error if one is in its chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae != nil {
		return ae, true
	}
	return nil, false
}
