package errors

import (
	"errors"
	"fmt"
)

// Kind names the subsystem that produced an error.
type Kind string

const (
	KindConfig    Kind = "config"
	KindTransport Kind = "transport"
	KindBootstrap Kind = "bootstrap"
	KindStorage   Kind = "storage"
	KindVision    Kind = "vision"
	KindInference Kind = "inference"
	KindTelemetry Kind = "telemetry"
	KindAuth      Kind = "auth"
	KindUnknown   Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap annotates err with kind and op. A nil err yields nil, and an error that
// already carries a Kind is returned as is so the innermost classification wins.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// Newf is New with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// IsKind checks whether the first typed error in the chain matches the provided kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first typed error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}

// Is, As and Unwrap re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Unwrap(err error) error { return errors.Unwrap(err) }
