// Package sync_ has small helpers on top of sync, for state shared between fetch workers.
package sync_

import "sync"

// Mutexed guards a value that is only reachable with the lock held.
type Mutexed[T any] struct {
	mu    sync.RWMutex
	value T
}

func NewMutexed[T any](value T) *Mutexed[T] {
	return &Mutexed[T]{value: value}
}

// Locked runs f with the write lock held; f may modify the value in place. The error from f is returned.
func (m *Mutexed[T]) Locked(f func(*T) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(&m.value)
}

// RLocked runs f with a read lock held, passing a shallow copy of the value, so maps and slices inside it must be
// treated as read-only.
func (m *Mutexed[T]) RLocked(f func(T) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return f(m.value)
}

func (m *Mutexed[T]) Get() T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value
}

func (m *Mutexed[T]) Set(value T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
}
