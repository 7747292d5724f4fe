// Package pubsub fans values out from one publisher to any number of subscribers.
package pubsub

import (
	"errors"
	"slices"
	"sync"

	"github.com/alanbriolat/video-fetcher/internal/sync_"
)

const DefaultBufSize = 16

var ErrPublisherClosed = errors.New("publisher closed")

// Publisher delivers every value sent to it to every current subscriber, in order. Delivery to a subscriber waits
// for space in its buffer, so subscribers must keep receiving until they are closed.
type Publisher[T any] struct {
	mu          sync.Mutex
	closed      bool
	inbox       *mailbox[T]
	pending     sync.WaitGroup
	stopped     chan struct{}
	subscribers *sync_.Mutexed[[]*mailbox[T]]
}

func NewPublisher[T any]() *Publisher[T] {
	p := &Publisher[T]{
		inbox:       newMailbox[T](DefaultBufSize),
		stopped:     make(chan struct{}),
		subscribers: sync_.NewMutexed[[]*mailbox[T]](nil),
	}
	go p.run()
	return p
}

func (p *Publisher[T]) run() {
	defer close(p.stopped)
	for msg := range p.inbox.Receive() {
		// Deliver to a copy, so subscribing isn't blocked by a slow subscriber
		var subscribers []*mailbox[T]
		_ = p.subscribers.RLocked(func(s []*mailbox[T]) error {
			subscribers = slices.Clone(s)
			return nil
		})
		for _, s := range subscribers {
			if !s.Send(msg) {
				p.remove(s)
			}
		}
		p.pending.Done()
	}
}

// Send queues msg for delivery, waiting only while the publisher's own buffer is full. Returns false once the
// publisher is closed.
func (p *Publisher[T]) Send(msg T) bool {
	p.pending.Add(1)
	if !p.inbox.Send(msg) {
		p.pending.Done()
		return false
	}
	return true
}

// Subscribe returns a Subscription to every value sent from now on.
func (p *Publisher[T]) Subscribe() (Subscription[T], error) {
	return p.SubscribeBufSize(DefaultBufSize)
}

func (p *Publisher[T]) SubscribeBufSize(size int) (Subscription[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	s := newMailbox[T](size)
	_ = p.subscribers.Locked(func(subscribers *[]*mailbox[T]) error {
		*subscribers = append(*subscribers, s)
		return nil
	})
	return s, nil
}

func (p *Publisher[T]) remove(s *mailbox[T]) {
	_ = p.subscribers.Locked(func(subscribers *[]*mailbox[T]) error {
		*subscribers = slices.DeleteFunc(*subscribers, func(other *mailbox[T]) bool { return other == s })
		return nil
	})
}

// Close delivers everything already queued, then closes every subscriber. It is idempotent.
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.inbox.Close()
	<-p.stopped
	var subscribers []*mailbox[T]
	_ = p.subscribers.Locked(func(s *[]*mailbox[T]) error {
		subscribers, *s = *s, nil
		return nil
	})
	for _, s := range subscribers {
		s.Close()
	}
}
