// Package queue provides the bounded FIFO that decouples message generation
// from dispatch. A full queue blocks the producer, which is the only
// backpressure mechanism between the generator and the workers.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/torosent/chatfire/internal/message"
)

// DefaultCapacity bounds the number of in-flight work items.
const DefaultCapacity = 10_000

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a capacity-bounded FIFO of work items, safe for one or more
// producers and any number of consumers.
type Queue struct {
	items     chan message.WorkItem
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a queue holding at most capacity items. Non-positive values use
// DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items: make(chan message.WorkItem, capacity),
		done:  make(chan struct{}),
	}
}

// Push enqueues item, blocking while the queue is full. It fails only when the
// queue is closed or ctx is done.
func (q *Queue) Push(ctx context.Context, item message.WorkItem) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the oldest item, waiting up to timeout. ok is false when the
// timeout elapses, ctx is done, or the queue is closed and drained.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (item message.WorkItem, ok bool) {
	select {
	case item = <-q.items:
		return item, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item = <-q.items:
		return item, true
	case <-q.done:
		select {
		case item = <-q.items:
			return item, true
		default:
			return message.WorkItem{}, false
		}
	case <-ctx.Done():
		return message.WorkItem{}, false
	case <-timer.C:
		return message.WorkItem{}, false
	}
}

// Close stops further pushes. Items already queued remain poppable.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Len returns the number of queued items.
func (q *Queue) Len() int { return len(q.items) }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return cap(q.items) }
