package model

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors. A Kind is itself an error so callers can
// write errors.Is(err, model.ErrNoMatchingVersion).
type Kind string

// Error returns the kind name.
func (k Kind) Error() string {
	return string(k)
}

// Error kinds surfaced by the engine.
const (
	ErrMalformedSpecifier          Kind = "malformed specifier"
	ErrNoSuchComponent             Kind = "no such component"
	ErrNoMatchingVersion           Kind = "no matching version"
	ErrMissingAsset                Kind = "missing asset"
	ErrFetch                       Kind = "fetch failed"
	ErrVerificationFailed          Kind = "verification failed"
	ErrExtractionFailed            Kind = "extraction failed"
	ErrIO                          Kind = "filesystem error"
	ErrSwitch                      Kind = "switch failed"
	ErrSelfUpdateReplacementFailed Kind = "self-update replacement failed"
)

// Error carries the kind and the offending target of a failed operation.
type Error struct {
	Kind   Kind
	Target ResolvedTarget
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	subject := e.Target.Component
	if e.Target.Version != "" {
		subject = e.Target.Component + "@" + e.Target.Version
	}
	if !e.Target.Platform.IsZero() {
		subject += " (" + e.Target.Platform.String() + ")"
	}

	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if subject != "" {
		msg += " for " + subject
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, target ResolvedTarget, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Target: target, Err: fmt.Errorf(format, args...)}
}

// Wrap builds an *Error around err. A nil err yields nil.
func Wrap(kind Kind, target ResolvedTarget, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Target: target, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
