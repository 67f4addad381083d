package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/piconet-go/piconet/econet"
	"github.com/piconet-go/piconet/internal/pool"
	"github.com/piconet-go/piconet/internal/queue"
)

const defaultEventQueueSize = 16

// EventQueue buffers every event accepted by its matcher until it is consumed.
//
// The queue stays registered until Destroy is called; its owner must destroy it.
type EventQueue struct {
	bus      *Bus
	listener *Listener

	mu    sync.Mutex
	items queue.Queue[econet.Event]

	notify      chan struct{}
	destroyed   chan struct{}
	destroyOnce sync.Once
}

// NewEventQueue creates a queue collecting the events accepted by m. A nil m accepts every event.
func (b *Bus) NewEventQueue(m Matcher) *EventQueue {
	q := &EventQueue{
		bus:       b,
		items:     queue.NewSliceQueue[econet.Event](defaultEventQueueSize),
		notify:    make(chan struct{}, 1),
		destroyed: make(chan struct{}),
	}
	q.listener = NewListener(func(evt econet.Event) {
		if m != nil && !m(evt) {
			return
		}
		q.mu.Lock()
		q.items.Enqueue(evt)
		q.mu.Unlock()
		q.signal()
	})
	b.AddListener(q.listener)

	return q
}

func (q *EventQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Wait returns the oldest buffered event, blocking until one arrives, timeout elapses, or ctx
// is done. A non-positive timeout waits for ctx only.
//
// It fails with ErrQueueDestroyed once the queue is destroyed, and with a *TimeoutError on timeout.
func (q *EventQueue) Wait(ctx context.Context, timeout time.Duration) (econet.Event, error) {
	deadline, release := pool.Deadline(timeout)
	defer release()

	for {
		select {
		case <-q.destroyed:
			return nil, ErrQueueDestroyed
		default:
		}

		if evt, ok := q.next(); ok {
			return evt, nil
		}

		select {
		case <-q.notify:
		case <-q.destroyed:
			return nil, ErrQueueDestroyed
		case <-deadline:
			q.bus.metrics.incWaitTimeouts()
			return nil, &TimeoutError{Op: "wait for queued event", Timeout: timeout}
		case <-ctx.Done():
			return nil, fmt.Errorf("driver: wait for queued event: %w", ctx.Err())
		}
	}
}

// next dequeues the oldest event, passing the wake-up on to other waiters if more remain.
func (q *EventQueue) next() (econet.Event, bool) {
	q.mu.Lock()
	evt, ok := q.items.Dequeue()
	more := !q.items.IsEmpty()
	q.mu.Unlock()

	if ok && more {
		q.signal()
	}

	return evt, ok
}

// TryNext returns the oldest buffered event without blocking. It works after Destroy too.
func (q *EventQueue) TryNext() (econet.Event, bool) {
	return q.next()
}

// Len returns the number of buffered events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Destroy deregisters the queue and fails pending and future waits with ErrQueueDestroyed.
// It is safe to call more than once.
func (q *EventQueue) Destroy() {
	q.destroyOnce.Do(func() {
		q.bus.RemoveListener(q.listener)
		close(q.destroyed)
	})
}
