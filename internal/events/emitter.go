// Package events provides a small typed publish/subscribe primitive.
//
// Observers subscribe and receive a handle; teardown goes through the
// handle rather than by name, and calling Unsubscribe twice is harmless.
// Publish never blocks: a subscriber that falls behind loses its oldest
// buffered value, not the publisher's progress.
package events

import "sync"

// Subscription is a live registration on an Emitter.
type Subscription[T any] struct {
	ch     chan T
	cancel func()
	once   sync.Once
}

// C returns the channel delivering published values.
// The channel is closed when the subscription is torn down or the
// emitter itself is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Unsubscribe removes the registration and closes C. Idempotent.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Emitter fans out values to any number of subscribers.
type Emitter[T any] struct {
	mu     sync.Mutex
	subs   map[int]*Subscription[T]
	nextID int
	buffer int
	closed bool
}

// NewEmitter creates an emitter whose subscribers each buffer up to
// buffer values.
func NewEmitter[T any](buffer int) *Emitter[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Emitter[T]{
		subs:   make(map[int]*Subscription[T]),
		buffer: buffer,
	}
}

// Subscribe registers a new observer.
// Subscribing on a closed emitter returns a handle whose channel is
// already closed.
func (e *Emitter[T]) Subscribe() *Subscription[T] {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan T, e.buffer)
	if e.closed {
		close(ch)
		return &Subscription[T]{ch: ch, cancel: func() {}}
	}

	id := e.nextID
	e.nextID++

	sub := &Subscription[T]{ch: ch}
	sub.cancel = func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subs[id]; !ok {
			return
		}
		delete(e.subs, id)
		close(ch)
	}

	e.subs[id] = sub
	return sub
}

// Publish delivers v to all current subscribers without blocking.
// A full subscriber buffer drops its oldest value to make room.
func (e *Emitter[T]) Publish(v T) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	for _, sub := range e.subs {
		select {
		case sub.ch <- v:
		default:
			// Buffer full: drop oldest, then retry once.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- v:
			default:
			}
		}
	}
}

// Close tears down the emitter and closes every subscriber channel.
// Idempotent; Publish after Close is a no-op.
func (e *Emitter[T]) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true

	for id, sub := range e.subs {
		delete(e.subs, id)
		close(sub.ch)
	}
}

// Len returns the current subscriber count.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
