// Package result provides a success-or-failure container used to report
// task outcomes without panicking or returning a second error value.
package result

import (
	"errors"
	"fmt"
)

// ErrNilFailure fills the error slot when Err is called with a nil error,
// so a failed Result never carries an empty error.
var ErrNilFailure = errors.New("failure without an error value")

// Result holds exactly one of a success value or a failure error.
// The zero Result is a success carrying the zero value of T.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a success value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Err wraps a failure. A nil err is replaced by ErrNilFailure.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = ErrNilFailure
	}
	return Result[T]{err: err}
}

// IsOk reports whether the result is a success.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether the result is a failure.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Value returns the success value, or the zero value of T on failure.
func (r Result[T]) Value() T { return r.value }

// Err returns the failure error, or nil on success.
func (r Result[T]) Err() error { return r.err }

// Get returns the value and error in the conventional Go shape.
func (r Result[T]) Get() (T, error) { return r.value, r.err }

// String renders Ok(value) or Err(error).
func (r Result[T]) String() string {
	if r.IsOk() {
		return fmt.Sprintf("Ok(%v)", r.value)
	}
	return fmt.Sprintf("Err(%v)", r.err)
}
