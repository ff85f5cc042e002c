// Package errs defines the small error taxonomy every store package
// discriminates on instead of parsing messages.
package errs

import "fmt"

// Kind identifies which of the documented error categories a *StoreError
// belongs to. Callers should switch on Kind (or use the Is* helpers)
// rather than inspect Error() text.
type Kind int

const (
	// KindNotFound means the requested entity does not exist.
	KindNotFound Kind = iota
	// KindConflict means the operation violates a uniqueness or
	// state-machine precondition.
	KindConflict
	// KindValidation means required input was missing or malformed.
	KindValidation
	// KindStorage means the underlying persistence layer failed (I/O,
	// disk full, corruption) and the error is not recoverable locally.
	KindStorage
	// KindCancelled names the case of a persist() that observed the
	// stream being cancelled out of band. No operation in this module
	// returns an error of this kind; Persist reports an observed
	// cancellation by returning nil.
	KindCancelled
	// KindProducerFailure means the upstream chunk source errored while
	// persist() was draining it.
	KindProducerFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	case KindCancelled:
		return "cancelled"
	case KindProducerFailure:
		return "producer_failure"
	default:
		return "unknown"
	}
}

// StoreError is the error type returned by every package in this module.
type StoreError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// New builds a *StoreError carrying no underlying cause.
func New(kind Kind, message string) error {
	return &StoreError{Kind: kind, Message: message}
}

// Newf builds a *StoreError with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &StoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a *StoreError that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) error {
	return &StoreError{Kind: kind, Message: message, Cause: cause}
}

// NotFound, Conflict, Validation, Storage are the constructors used at
// nearly every call site; they read like the spec's own vocabulary.
func NotFound(format string, args ...any) error {
	return Newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) error {
	return Newf(KindConflict, format, args...)
}

func Validation(format string, args ...any) error {
	return Newf(KindValidation, format, args...)
}

func Storage(message string, cause error) error {
	return Wrap(KindStorage, message, cause)
}

func ProducerFailure(cause error) error {
	return Wrap(KindProducerFailure, "producer source failed", cause)
}

// Is reports whether err is a *StoreError of the given Kind.
func Is(err error, kind Kind) bool {
	se, ok := err.(*StoreError)
	if !ok {
		return false
	}
	return se.Kind == kind
}
