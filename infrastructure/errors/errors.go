// Package errors provides the runtime's closed error taxonomy (spec §7).
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is one of the closed set of error kinds the runtime raises.
type ErrorCode string

const (
	CodeConfigValidation  ErrorCode = "CONFIG_VALIDATION_ERROR"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	CodePeerUnknown       ErrorCode = "PEER_UNKNOWN"
	CodeInitFailed        ErrorCode = "INIT_FAILED"
	CodePersistFailed     ErrorCode = "PERSIST_FAILED"
	CodeNemesisRejected   ErrorCode = "NEMESIS_REJECTED"
)

// RuntimeError is a coded, structured error with optional details and an
// HTTP status for the chi introspection surface.
type RuntimeError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *RuntimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value detail and returns the same error for
// chaining.
func (e *RuntimeError) WithDetails(key string, value interface{}) *RuntimeError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newErr(code ErrorCode, message string, status int) *RuntimeError {
	return &RuntimeError{Code: code, Message: message, HTTPStatus: status}
}

func wrapErr(code ErrorCode, message string, status int, err error) *RuntimeError {
	return &RuntimeError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// ConfigValidation reports construction-time schema violations (spec §4.E).
// offenses names every violated field; the list must never be empty.
func ConfigValidation(offenses []string) *RuntimeError {
	return newErr(CodeConfigValidation, "config validation failed", http.StatusBadRequest).
		WithDetails("offenses", offenses)
}

// CircuitOpen reports that a breaker rejected a call without attempting it.
func CircuitOpen(operation string) *RuntimeError {
	return newErr(CodeCircuitOpen, "circuit breaker is open", http.StatusServiceUnavailable).
		WithDetails("operation", operation)
}

// Timeout reports that a scoped operation exceeded its deadline.
func Timeout(operation string, timeoutMs int64) *RuntimeError {
	return newErr(CodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation).
		WithDetails("timeoutMs", timeoutMs)
}

// ResourceExhausted reports a capacity ceiling was hit (micro-agents, clones,
// active goals, rate-limited operations).
func ResourceExhausted(resource string) *RuntimeError {
	return newErr(CodeResourceExhausted, "resource exhausted", http.StatusTooManyRequests).
		WithDetails("resource", resource)
}

// PeerUnknown reports bus delivery to an unregistered peer name.
func PeerUnknown(name string) *RuntimeError {
	return newErr(CodePeerUnknown, "peer not registered", http.StatusNotFound).
		WithDetails("peer", name)
}

// InitFailed reports arbiter construction or onInitialize hook failure.
func InitFailed(arbiter string, err error) *RuntimeError {
	return wrapErr(CodeInitFailed, "arbiter initialization failed", http.StatusInternalServerError, err).
		WithDetails("arbiter", arbiter)
}

// PersistFailed reports a snapshot write/load failure. The caller continues;
// this error is logged, never fatal to the producing operation.
func PersistFailed(path string, err error) *RuntimeError {
	return wrapErr(CodePersistFailed, "persistence operation failed", http.StatusInternalServerError, err).
		WithDetails("path", path)
}

// NemesisRejected reports an autonomous goal proposal killed by the
// reality-check gate (aggregate score < 0.5).
func NemesisRejected(score float64, existingGoalID string) *RuntimeError {
	e := newErr(CodeNemesisRejected, "proposal rejected by reality-check gate", http.StatusUnprocessableEntity).
		WithDetails("score", score)
	if existingGoalID != "" {
		e = e.WithDetails("existingGoalId", existingGoalID)
	}
	return e
}

// IsRuntimeError reports whether err (or something it wraps) is a RuntimeError.
func IsRuntimeError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}

// GetRuntimeError extracts a RuntimeError from an error chain, if present.
func GetRuntimeError(err error) *RuntimeError {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re
	}
	return nil
}

// Is reports whether err carries the given error code.
func Is(err error, code ErrorCode) bool {
	re := GetRuntimeError(err)
	return re != nil && re.Code == code
}

// HTTPStatus returns the HTTP status code associated with err, defaulting to
// 500 for non-RuntimeError values.
func HTTPStatus(err error) int {
	if re := GetRuntimeError(err); re != nil {
		return re.HTTPStatus
	}
	return http.StatusInternalServerError
}
