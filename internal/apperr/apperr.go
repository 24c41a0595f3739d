// Package apperr defines the failure categories surfaced by the auth and
// negotiation services. Callers test with errors.Is against the Kind values.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a failure category. It implements error so it can be used directly
// as an errors.Is target.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// BadCredentials covers unknown accounts, wrong passwords and any
	// invalid or expired token. The cases are deliberately indistinguishable.
	BadCredentials   Kind = "bad credentials"
	AccountLocked    Kind = "account locked"
	EmailNotVerified Kind = "email not verified"
	NotFound         Kind = "resource not found"
	IllegalState     Kind = "illegal state"
	Duplicate        Kind = "duplicate resource"
	Invalid          Kind = "invalid request"
)

// Error is a categorised failure with a caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	// AttemptsRemaining is set only on a wrong-password failure.
	AttemptsRemaining *int
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrongPassword builds the bad-credentials failure that reveals how many
// attempts are left before the account locks.
func WrongPassword(remaining int) *Error {
	if remaining < 0 {
		remaining = 0
	}
	return &Error{
		Kind:              BadCredentials,
		Message:           fmt.Sprintf("Invalid credentials. %d attempts remaining", remaining),
		AttemptsRemaining: &remaining,
	}
}

// KindOf returns the category of err, or "" when err is not categorised.
func KindOf(err error) Kind {
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// Message returns the caller-facing message carried by err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	var k Kind
	if errors.As(err, &k) {
		return k.Error()
	}
	return ""
}
