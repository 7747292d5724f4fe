package generic

// Set is a collection of distinct values that remembers the order they were first added in.
type Set[T comparable] struct {
	index map[T]int
	items []T
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{index: make(map[T]int, len(items))}
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add returns false if item was already present.
func (s *Set[T]) Add(item T) bool {
	if _, found := s.index[item]; found {
		return false
	}
	if s.index == nil {
		s.index = make(map[T]int)
	}
	s.index[item] = len(s.items)
	s.items = append(s.items, item)
	return true
}

// Contains is true if all of items are present.
func (s *Set[T]) Contains(items ...T) bool {
	for _, item := range items {
		if _, found := s.index[item]; !found {
			return false
		}
	}
	return true
}

func (s *Set[T]) Count() int {
	return len(s.items)
}

// Values returns the items in insertion order.
func (s *Set[T]) Values() []T {
	return append([]T(nil), s.items...)
}
