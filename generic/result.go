package generic

import "fmt"

// Result is the outcome of a call that produced either a value or an error, for passing outcomes around as one value.
type Result[T any] struct {
	Value T
	Error error
}

// NewResult captures a (T, error) return as a Result[T].
func NewResult[T any](value T, err error) Result[T] {
	return Result[T]{Value: value, Error: err}
}

func Ok[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

func Err[T any](err error) Result[T] {
	return Result[T]{Error: err}
}

func (r Result[T]) IsErr() bool {
	return r.Error != nil
}

func (r Result[T]) IsOk() bool {
	return r.Error == nil
}

// Parts splits the Result[T] back into a conventional (T, error) pair.
func (r Result[T]) Parts() (T, error) {
	return r.Value, r.Error
}

// Unwrap returns the value, or panics if there was an error. Only for wiring code where an error is a bug.
func (r Result[T]) Unwrap() T {
	if r.Error != nil {
		panic(fmt.Errorf("tried to Unwrap() an Err: %w", r.Error))
	}
	return r.Value
}

// Unwrap is a shortcut for NewResult(...).Unwrap().
func Unwrap[T any](value T, err error) T {
	return NewResult(value, err).Unwrap()
}

// Unwrap_ is like Unwrap, for calls that only return an error.
func Unwrap_(err error) {
	NewResult(struct{}{}, err).Unwrap()
}
