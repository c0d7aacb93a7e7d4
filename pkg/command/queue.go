package command

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is reported by producers that need an error value rather than a bool.
var ErrQueueClosed = errors.New("command queue is closed")

const compactThreshold = 1024

// Producer is the interface command sources depend on.
type Producer interface {
	Enqueue(env Envelope) bool
}

// Queue is an unbounded FIFO with many producers and a single consumer.
// Enqueue never blocks; Dequeue suspends until an envelope is available,
// the context is cancelled, or the queue is closed and drained.
type Queue struct {
	mu     sync.Mutex
	items  []Envelope
	head   int
	closed bool
	notify chan struct{}
	done   chan struct{}
}

var _ Producer = (*Queue)(nil)

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends env and reports whether it was accepted.
// A zero timestamp is replaced with the enqueue time.
func (q *Queue) Enqueue(env Envelope) bool {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue returns the oldest envelope. The bool is false when ctx was
// cancelled or the queue is closed and empty.
func (q *Queue) Dequeue(ctx context.Context) (Envelope, bool) {
	for {
		q.mu.Lock()
		if q.head < len(q.items) {
			env := q.items[q.head]
			q.items[q.head] = Envelope{}
			q.head++
			switch {
			case q.head == len(q.items):
				q.items = q.items[:0]
				q.head = 0
			case q.head >= compactThreshold && q.head*2 >= len(q.items):
				n := copy(q.items, q.items[q.head:])
				q.items = q.items[:n]
				q.head = 0
			}
			q.mu.Unlock()
			return env, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Envelope{}, false
		}

		select {
		case <-ctx.Done():
			return Envelope{}, false
		case <-q.notify:
		case <-q.done:
		}
	}
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close rejects further enqueues. Envelopes already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
