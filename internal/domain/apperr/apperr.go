// Package apperr defines the error taxonomy surfaced by the letter workflow.
// Every domain failure carries a Kind so callers can tell "not your turn"
// apart from "already decided".
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a domain error
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindAuthorization Kind = "AUTHORIZATION"
	KindState         Kind = "STATE"
	KindAssignment    Kind = "ASSIGNMENT"
	KindRateLimit     Kind = "RATE_LIMIT"
	KindNotFound      Kind = "NOT_FOUND"
)

// Sentinels for errors.Is matching against a kind
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrState         = &Error{Kind: KindState}
	ErrAssignment    = &Error{Kind: KindAssignment}
	ErrRateLimit     = &Error{Kind: KindRateLimit}
	ErrNotFound      = &Error{Kind: KindNotFound}
)

// Error is a domain error tagged with its kind
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, which lets the package sentinels
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation creates a validation error
func Validation(op, format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Authorization creates an authorization error
func Authorization(op, format string, args ...interface{}) error {
	return &Error{Kind: KindAuthorization, Op: op, Message: fmt.Sprintf(format, args...)}
}

// State creates a state error
func State(op, format string, args ...interface{}) error {
	return &Error{Kind: KindState, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Assignment creates an assignment error
func Assignment(op, format string, args ...interface{}) error {
	return &Error{Kind: KindAssignment, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error
func NotFound(op, format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// RateLimited creates a rate-limit error carrying the retry-after hint
func RateLimited(op string, retryAfter time.Duration) error {
	return &Error{
		Kind:       KindRateLimit,
		Op:         op,
		Message:    fmt.Sprintf("retry after %s", retryAfter.Round(time.Second)),
		RetryAfter: retryAfter,
	}
}

// Wrap attaches a kind to an underlying error
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" for
// errors that carry no domain kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RetryAfterOf returns the retry-after hint of a rate-limit error
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimit {
		return e.RetryAfter
	}
	return 0
}
