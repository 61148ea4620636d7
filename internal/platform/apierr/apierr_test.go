package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name   string
		err    *Error
		status int
		code   string
	}{
		{"bad request default code", BadRequest("", cause), http.StatusBadRequest, CodeInvalidInput},
		{"bad request id", BadRequest(CodeInvalidID, cause), http.StatusBadRequest, CodeInvalidID},
		{"unauthorized", Unauthorized(cause), http.StatusUnauthorized, CodeUnauthorized},
		{"forbidden", Forbidden(cause), http.StatusForbidden, CodeForbidden},
		{"not found", NotFound(cause), http.StatusNotFound, CodeNotFound},
		{"internal", Internal(cause), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Status != tc.status || tc.err.Code != tc.code {
				t.Fatalf("got %d/%q want %d/%q", tc.err.Status, tc.err.Code, tc.status, tc.code)
			}
			if !errors.Is(tc.err, cause) {
				t.Fatalf("cause not reachable through Unwrap")
			}
		})
	}
}

func TestInternalHidesCause(t *testing.T) {
	err := Internal(errors.New("dsn=postgres://user:pw@host"))
	if err.Error() != "internal error" {
		t.Fatalf("Error()=%q", err.Error())
	}
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", NotFound(errors.New("x")))
	ae, ok := As(wrapped)
	if !ok || ae.Status != http.StatusNotFound {
		t.Fatalf("As: ok=%v ae=%v", ok, ae)
	}
	if _, ok := As(errors.New("plain")); ok {
		t.Fatalf("As matched a plain error")
	}
	if got := (&Error{Status: 418}).Error(); got != "http 418" {
		t.Fatalf("Error()=%q", got)
	}
}
