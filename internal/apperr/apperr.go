// File: internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by which part of the pipeline produced it and
// whether the caller can recover.
type Kind string

const (
	Configuration Kind = "configuration" // fatal; bootstrap cannot proceed
	Auth          Kind = "auth"          // sign-in/sign-up failed; session stays signed out
	Subscription  Kind = "subscription"  // a live listener reported failure
	Mutation      Kind = "mutation"      // a remote write failed; local state rolled back
	Validation    Kind = "validation"    // local precondition; no remote call was made
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// Message returns the user-facing text for err: the coded message when err is
// an *Error, the raw error text otherwise.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
