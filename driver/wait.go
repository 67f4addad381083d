package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/piconet-go/piconet/econet"
	"github.com/piconet-go/piconet/internal/pool"
)

// Waiter awaits the first event accepted by a matcher.
//
// The waiter is registered on the bus when it is created, so an event fired before Wait is
// called is not missed. A waiter resolves exactly once: either with the first matching event,
// or with a timeout or cancellation, and it deregisters itself in both cases.
type Waiter struct {
	bus      *Bus
	op       string
	listener *Listener
	result   chan econet.Event
	once     sync.Once
}

// Expect registers a waiter for the first event accepted by m. A nil m accepts every event.
//
// The caller must call Wait or Cancel on the returned waiter.
func (b *Bus) Expect(m Matcher) *Waiter {
	return b.expect("wait for event", m)
}

func (b *Bus) expect(op string, m Matcher) *Waiter {
	w := &Waiter{bus: b, op: op, result: make(chan econet.Event, 1)}
	w.listener = NewListener(func(evt econet.Event) {
		if m != nil && !m(evt) {
			return
		}
		w.once.Do(func() {
			b.RemoveListener(w.listener)
			w.result <- evt
		})
	})
	b.AddListener(w.listener)

	return w
}

// Cancel abandons the wait. It is a no-op once the waiter has resolved.
func (w *Waiter) Cancel() {
	w.once.Do(func() {
		w.bus.RemoveListener(w.listener)
	})
}

// Wait blocks until the matching event arrives, timeout elapses, or ctx is done.
// A non-positive timeout waits for ctx only.
//
// It returns a *TimeoutError on timeout and the wrapped ctx error on cancellation.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (econet.Event, error) {
	deadline, release := pool.Deadline(timeout)
	defer release()

	var err error
	select {
	case evt := <-w.result:
		return evt, nil
	case <-deadline:
		err = &TimeoutError{Op: w.op, Timeout: timeout}
	case <-ctx.Done():
		err = fmt.Errorf("driver: %s: %w", w.op, ctx.Err())
	}

	w.Cancel()

	// the event may have won the race against the timer
	select {
	case evt := <-w.result:
		return evt, nil
	default:
	}

	if _, ok := err.(*TimeoutError); ok {
		w.bus.metrics.incWaitTimeouts()
	}

	return nil, err
}

// WaitForEvent waits for the first event accepted by m.
//
// Correlation is by shape only: when two waits with overlapping matchers are outstanding,
// the earlier registered one receives the event and the other keeps waiting.
func (b *Bus) WaitForEvent(ctx context.Context, m Matcher, timeout time.Duration) (econet.Event, error) {
	return b.Expect(m).Wait(ctx, timeout)
}
