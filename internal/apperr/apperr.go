// Package apperr holds the failure taxonomy shared by the generation and
// grading pipeline. Every failure carries one of the Err* kinds so callers can
// tell retryable gateway failures from terminal ones with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Failure kinds.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrGateway           = errors.New("gateway error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrSchemaViolation   = errors.New("schema violation")
	ErrCountMismatch     = errors.New("count mismatch")
)

// maxRawLen bounds the reply text kept on a MalformedResponse.
const maxRawLen = 200

// Error is a classified pipeline failure.
type Error struct {
	Kind     error
	Msg      string
	Field    string // offending field for SchemaViolation / CountMismatch
	Expected int    // CountMismatch only
	Observed int    // CountMismatch only
	Raw      string // truncated reply text for MalformedResponse
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return e != nil && target == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidRequest reports caller parameters that break a mode precondition.
func InvalidRequest(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidRequest, Msg: fmt.Sprintf(format, args...)}
}

// Gateway wraps a failed or timed-out model call.
func Gateway(err error) *Error {
	return &Error{Kind: ErrGateway, Err: err}
}

// Malformed reports a reply that could not be parsed as JSON.
func Malformed(raw string, err error) *Error {
	return &Error{Kind: ErrMalformedResponse, Raw: Truncate(raw, maxRawLen), Err: err}
}

// SchemaViolation reports a missing or mistyped field.
func SchemaViolation(field, format string, args ...any) *Error {
	msg := field
	if format != "" {
		msg += ": " + fmt.Sprintf(format, args...)
	}
	return &Error{Kind: ErrSchemaViolation, Field: field, Msg: msg}
}

// CountMismatch reports a question count that differs from the contract.
func CountMismatch(field string, expected, observed int) *Error {
	return &Error{
		Kind:     ErrCountMismatch,
		Field:    field,
		Expected: expected,
		Observed: observed,
		Msg:      fmt.Sprintf("%s: expected %d, got %d", field, expected, observed),
	}
}

// Retryable reports whether re-issuing the same prompt may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrGateway)
}

// KindName returns a stable snake_case name for the kind of err, or
// "internal" when err is not classified.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrGateway):
		return "gateway_error"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, ErrCountMismatch):
		return "count_mismatch"
	default:
		return "internal"
	}
}

// Truncate cuts s to at most n runes, marking the cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
