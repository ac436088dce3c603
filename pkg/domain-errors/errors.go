// Package domainerrors defines the code-based error model shared by all
// wallet modules. Services return these errors; the transport layer maps
// codes to HTTP statuses without parsing messages.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a failure. Codes are stable API: handlers, clients and
// tests match on them, never on message text.
type Code string

const (
	// Authorization
	CodeUnauthorized Code = "unauthorized"
	CodeNotOwner     Code = "not_owner"

	// Lookup
	CodeNotFound Code = "not_found"

	// State conflicts
	CodeAlreadyExecuted  Code = "already_executed"
	CodeAlreadyConfirmed Code = "already_confirmed"
	CodeNotConfirmed     Code = "not_confirmed"
	CodeAlreadyOwner     Code = "already_owner"
	CodeConflict         Code = "conflict"

	// Invariant violations
	CodeThresholdViolation Code = "threshold_violation"
	CodeInvalidThreshold   Code = "invalid_threshold"
	CodeInvariantViolation Code = "invariant_violation"

	// Resource shortfalls
	CodeInsufficientConfirmations Code = "insufficient_confirmations"
	CodeInsufficientBalance       Code = "insufficient_balance"

	// Payload handling
	CodeMalformedPayload Code = "malformed_payload"

	// Governance execution
	CodeExecutionFailed Code = "execution_failed"

	// Generic
	CodeValidation Code = "validation"
	CodeBadRequest Code = "bad_request"
	CodeInternal   Code = "internal"
)

// Error carries a code, a human-readable message and optional structured
// metadata (wallet id, transaction index, owner) so callers can render a
// specific message without string parsing.
type Error struct {
	Code    Code
	Message string
	Meta    map[string]string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// WithMeta attaches a key/value pair and returns the same error for chaining.
func (e *Error) WithMeta(key, value string) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]string)
	}
	e.Meta[key] = value
	return e
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message while keeping the cause
// reachable through errors.Is/As and HasCode.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if errors.As(err, &de) {
			if de.Code == code {
				return true
			}
			err = de.err
			continue
		}
		return false
	}
	return false
}

// Is is an alias for HasCode kept for call-site readability.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MetaOf returns the outermost metadata map, possibly nil.
func MetaOf(err error) map[string]string {
	var de *Error
	if errors.As(err, &de) {
		return de.Meta
	}
	return nil
}

// ToHTTPStatus maps a code to an HTTP status for the transport layer.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotOwner:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExecuted, CodeAlreadyConfirmed, CodeNotConfirmed,
		CodeAlreadyOwner, CodeConflict, CodeExecutionFailed:
		return http.StatusConflict
	case CodeThresholdViolation, CodeInvalidThreshold, CodeInvariantViolation,
		CodeInsufficientConfirmations, CodeInsufficientBalance,
		CodeMalformedPayload, CodeValidation:
		return http.StatusUnprocessableEntity
	case CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
