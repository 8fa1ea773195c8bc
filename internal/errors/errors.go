// Package errors defines the coded errors shared by services, jobs and the
// HTTP layer. Services return them; the API maps Code to a status and the
// response envelope's error.code.
//
//	if n > 0 {
//	    return errors.Conflictf("category %s still has %d tags", id, n).
//	        WithDetails(map[string]int{"tagCount": n})
//	}
//
// Callers match on the code with errors.Is against the sentinels below.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard library helpers, re-exported so callers need one import.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)

// Code is the machine-readable error code written to the envelope.
type Code string

const (
	CodeNotFound       Code = "NOT_FOUND"
	CodeAlreadyExists  Code = "ALREADY_EXISTS"
	CodeValidation     Code = "VALIDATION"
	CodeConflict       Code = "CONFLICT"
	CodeConfiguration  Code = "CONFIGURATION"
	CodePartialFailure Code = "PARTIAL_FAILURE"
	CodeInternal       Code = "INTERNAL"
)

var codeStatus = map[Code]int{
	CodeNotFound:       http.StatusNotFound,
	CodeAlreadyExists:  http.StatusConflict,
	CodeConflict:       http.StatusConflict,
	CodeValidation:     http.StatusBadRequest,
	CodePartialFailure: http.StatusMultiStatus,
}

// HTTPStatus maps the code to a response status. Unlisted codes are 500.
func (c Code) HTTPStatus() int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error carries a code, a message and optional structured details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same code, so the sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus returns the status for e's code.
func (e *Error) HTTPStatus() int { return e.Code.HTTPStatus() }

// WithDetails returns a copy of e with details replaced.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

var (
	ErrNotFound       = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists  = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrValidation     = &Error{Code: CodeValidation, Message: "validation error"}
	ErrConflict       = &Error{Code: CodeConflict, Message: "conflict"}
	ErrConfiguration  = &Error{Code: CodeConfiguration, Message: "configuration error"}
	ErrPartialFailure = &Error{Code: CodePartialFailure, Message: "partial failure"}
	ErrInternal       = &Error{Code: CodeInternal, Message: "internal error"}
)

func newf(code Code, format string, args []any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Message: msg}
}

func NotFoundf(format string, args ...any) *Error { return newf(CodeNotFound, format, args) }

func Validation(msg string) *Error { return &Error{Code: CodeValidation, Message: msg} }

func Validationf(format string, args ...any) *Error { return newf(CodeValidation, format, args) }

// ValidationWithDetails is used for field-level failures; details is the field map.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

func Conflictf(format string, args ...any) *Error { return newf(CodeConflict, format, args) }

// Configuration reports a setup problem. Jobs that hit one stop before writing.
func Configuration(msg string) *Error { return &Error{Code: CodeConfiguration, Message: msg} }

func Configurationf(format string, args ...any) *Error {
	return newf(CodeConfiguration, format, args)
}

// PartialFailure carries a job report as details.
func PartialFailure(msg string, report any) *Error {
	return &Error{Code: CodePartialFailure, Message: msg, Details: report}
}

// Wrap attaches a code and message to err.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
