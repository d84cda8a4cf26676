package faults

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrTaskFailure          = errors.New("task failure")
	ErrUnsupportedRuntime   = errors.New("unsupported runtime")
	ErrPersistence          = errors.New("persistence failure")
	ErrInterrupted          = errors.New("interrupted")
)

// Error tags a cause with one of the kinds above.
//
// errors.Is matches both the kind and the wrapped cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func New(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Invalidf(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return &Error{Kind: ErrPersistence, Op: op, Err: err}
}

// IsInterrupt reports whether err came from a user-initiated cancellation.
func IsInterrupt(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

// Classify returns a short kind name suitable for logs.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case IsInterrupt(err):
		return "interrupted"
	case errors.Is(err, ErrInvalidConfiguration):
		return "invalid_configuration"
	case errors.Is(err, ErrUnsupportedRuntime):
		return "unsupported_runtime"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, ErrTaskFailure):
		return "task_failure"
	default:
		return "unclassified"
	}
}
