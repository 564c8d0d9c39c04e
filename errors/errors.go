// Package errors defines the sentinel error values returned across the
// image, bitmap, blockmap, stream, directory, and facade layers, along with
// a small DriverError type that lets callers attach context to a sentinel
// without losing the ability to compare against it with errors.Is.
package errors

import "fmt"

// DriverError is the interface satisfied by the errors this module builds
// from its sentinels with WithMessage and Wrap. Record decoding errors and
// aggregated multierror values are returned as they are.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
	Unwrap() error
}

// DiskoError is a sentinel error value, modeled as a bare string the way
// dargueta/disko/errors does it. The zero-cost comparison this gives is
// what makes errors.Is(err, ErrNotFound) cheap and obvious at call sites.
type DiskoError string

func (e DiskoError) Error() string {
	return string(e)
}

// WithMessage attaches additional context to the sentinel without
// discarding it; errors.Is(result, e) still succeeds.
func (e DiskoError) WithMessage(message string) DriverError {
	return &wrappedError{
		sentinel: e,
		message:  fmt.Sprintf("%s: %s", e, message),
	}
}

// Wrap attaches an underlying error to the sentinel. errors.Is succeeds
// against both e and err.
func (e DiskoError) Wrap(err error) DriverError {
	return &wrappedError{
		sentinel: e,
		parent:   err,
		message:  fmt.Sprintf("%s: %s", e, err.Error()),
	}
}

type wrappedError struct {
	sentinel DiskoError
	parent   error
	message  string
}

func (e *wrappedError) Error() string {
	return e.message
}

func (e *wrappedError) Is(target error) bool {
	sentinel, ok := target.(DiskoError)
	return ok && sentinel == e.sentinel
}

func (e *wrappedError) Unwrap() error {
	return e.parent
}

func (e *wrappedError) WithMessage(message string) DriverError {
	return &wrappedError{
		sentinel: e.sentinel,
		parent:   e.parent,
		message:  fmt.Sprintf("%s: %s", e.message, message),
	}
}

func (e *wrappedError) Wrap(err error) DriverError {
	return &wrappedError{
		sentinel: e.sentinel,
		parent:   err,
		message:  fmt.Sprintf("%s: %s", e.message, err.Error()),
	}
}
