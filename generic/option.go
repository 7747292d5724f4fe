package generic

// Option is a value that may be absent, for settings where the zero value is meaningful.
type Option[T any] struct {
	value    T
	hasValue bool
}

func Some[T any](value T) Option[T] {
	return Option[T]{value: value, hasValue: true}
}

func None[T any]() Option[T] {
	return Option[T]{}
}

func (o Option[T]) IsSome() bool {
	return o.hasValue
}

func (o Option[T]) IsNone() bool {
	return !o.hasValue
}

// Get returns the value and whether there is one.
func (o Option[T]) Get() (T, bool) {
	return o.value, o.hasValue
}

// UnwrapOr returns the value, or other if there is none.
func (o Option[T]) UnwrapOr(other T) T {
	if o.hasValue {
		return o.value
	}
	return other
}
