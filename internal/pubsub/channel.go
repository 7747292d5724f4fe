package pubsub

import "sync"

// Subscription receives published values until it, or its publisher, is closed.
type Subscription[T any] interface {
	// Receive returns the channel values arrive on; it is closed along with the Subscription.
	Receive() <-chan T
	Close()
}

// mailbox is a buffered channel that is safe to close while senders are blocked on it.
type mailbox[T any] struct {
	mu      sync.RWMutex
	ch      chan T
	done    chan struct{}
	closed  bool
	sending sync.WaitGroup
}

func newMailbox[T any](size int) *mailbox[T] {
	return &mailbox[T]{
		ch:   make(chan T, size),
		done: make(chan struct{}),
	}
}

func (m *mailbox[T]) Receive() <-chan T {
	return m.ch
}

// Send waits for buffer space to deliver msg, returning false if the mailbox is closed first.
func (m *mailbox[T]) Send(msg T) bool {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return false
	}
	// Registered under the read lock, so Close cannot close ch until this send gives up
	m.sending.Add(1)
	m.mu.RUnlock()
	defer m.sending.Done()

	select {
	case m.ch <- msg:
		return true
	case <-m.done:
		return false
	}
}

// Close is idempotent. Values already buffered can still be received.
func (m *mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
	m.sending.Wait()
	close(m.ch)
}
