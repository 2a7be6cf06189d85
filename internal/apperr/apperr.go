// Package apperr defines the error taxonomy shared by the monitor,
// notifier, market-data and bridge components. Errors are tagged with a
// Code so the bridge's HTTP layer (see internal/bridge) can map them to a
// status without string-matching messages, following the same
// http.Error-at-the-boundary style the dashboard server uses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport-layer mapping and logging.
type Code string

const (
	CodeValidation            Code = "validation"
	CodeAuthentication        Code = "authentication"
	CodeAuthorization         Code = "authorization"
	CodeNotFound              Code = "not_found"
	CodeConflict              Code = "conflict"
	CodeExternalService       Code = "external_service"
	CodeMarketDataUnavailable Code = "market_data_unavailable"
	CodeRateLimit             Code = "rate_limit"
	CodeDatabase              Code = "database"
)

// httpStatus maps each Code to the status the bridge should return.
var httpStatus = map[Code]int{
	CodeValidation:            http.StatusBadRequest,
	CodeAuthentication:        http.StatusUnauthorized,
	CodeAuthorization:         http.StatusForbidden,
	CodeNotFound:              http.StatusNotFound,
	CodeConflict:              http.StatusConflict,
	CodeExternalService:       http.StatusBadGateway,
	CodeMarketDataUnavailable: http.StatusServiceUnavailable,
	CodeRateLimit:             http.StatusTooManyRequests,
	CodeDatabase:              http.StatusInternalServerError,
}

// Error is an application error carrying a Code, a human-readable
// message, and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code the bridge should respond with.
// Unknown codes map to 500, matching the dashboard's "Internal Server
// Error" default for anything not explicitly handled.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that wraps cause. If cause is nil, Wrap returns
// nil so callers can write `return apperr.Wrap(...)` unconditionally
// after an `if err != nil` guard without an extra branch.
func Wrap(code Code, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code from err, walking the Unwrap chain. It
// returns CodeDatabase as the catch-all for errors with no tagged Code,
// matching the bridge's 500-by-default posture.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeDatabase
}

// Is reports whether err (or something it wraps) carries the given Code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
