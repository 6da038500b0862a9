// Package mailbox provides the bounded single-consumer queue that rooms and the
// dispatcher receive on.
package mailbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send when the consumer has stopped receiving.
var ErrClosed = errors.New("mailbox closed")

// Mailbox is a bounded FIFO queue with one consumer and any number of producers.
//
// The queue channel itself is never closed. Consumer death is signalled through
// Done so that producers racing a shutdown never send on a closed channel.
type Mailbox[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// New creates a mailbox holding at most capacity queued values.
//
// Precondition: capacity > 0.
func New[T any](capacity int) *Mailbox[T] {
	if capacity <= 0 {
		panic("mailbox: capacity must be positive")
	}
	return &Mailbox[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Send enqueues v, suspending while the mailbox is full.
//
// Postcondition: Returns nil when v was queued, ErrClosed when the consumer has
// closed the mailbox, or ctx.Err() when ctx ends first. A value is never
// dropped silently.
func (m *Mailbox[T]) Send(ctx context.Context, v T) error {
	// A closed mailbox must reject even when buffer space remains.
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.ch <- v:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues v only if space is available right now.
func (m *Mailbox[T]) TrySend(v T) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.ch <- v:
		return true
	default:
		return false
	}
}

// Receive returns the channel the consumer reads from.
func (m *Mailbox[T]) Receive() <-chan T {
	return m.ch
}

// Drain appends up to limit queued values to buf without blocking.
func (m *Mailbox[T]) Drain(buf []T, limit int) []T {
	for i := 0; i < limit; i++ {
		select {
		case v := <-m.ch:
			buf = append(buf, v)
		default:
			return buf
		}
	}
	return buf
}

// Close marks the consumer as gone. Subsequent and blocked Sends return ErrClosed.
// Close is idempotent.
func (m *Mailbox[T]) Close() {
	m.once.Do(func() { close(m.done) })
}

// Done is closed once the consumer has closed the mailbox.
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Len returns the number of queued values.
func (m *Mailbox[T]) Len() int { return len(m.ch) }

// Cap returns the mailbox capacity.
func (m *Mailbox[T]) Cap() int { return cap(m.ch) }
