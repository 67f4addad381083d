package capture

import (
	"context"
	"time"

	"github.com/piconet-go/piconet/driver"
	"github.com/piconet-go/piconet/econet"
	"github.com/piconet-go/piconet/logger"
)

const recordTimeout = time.Second

// Source is an event source a Recorder subscribes to. Both *driver.Driver and *driver.Bus
// implement it.
type Source interface {
	NewEventQueue(m driver.Matcher) *driver.EventQueue
}

// Recorder stores every frame-carrying event of a source in a Store.
//
// Events are buffered in a driver.EventQueue and written by a background goroutine; the driver's
// reader only enqueues. Failures are logged and never reach the driver.
type Recorder struct {
	queue  *driver.EventQueue
	record func(context.Context, econet.Event) (int64, error)
	logger logger.Logger

	done chan struct{}
}

// NewRecorder starts recording the events of src into s. The caller must Close the recorder
// before closing s.
func NewRecorder(src Source, s *Store) *Recorder {
	return newRecorder(src, s.Record, s.logger)
}

func newRecorder(src Source, record func(context.Context, econet.Event) (int64, error), l logger.Logger) *Recorder {
	r := &Recorder{
		queue: src.NewEventQueue(driver.MatchKind(
			econet.KindMonitor, econet.KindRxBroadcast, econet.KindRxImmediate, econet.KindRxTransmit,
		)),
		record: record,
		logger: l,
		done:   make(chan struct{}),
	}
	go r.run()

	return r
}

func (r *Recorder) run() {
	defer close(r.done)

	for {
		evt, err := r.queue.Wait(context.Background(), 0)
		if err != nil {
			// destroyed: store what was queued before Close
			for evt, ok := r.queue.TryNext(); ok; evt, ok = r.queue.TryNext() {
				r.store(evt)
			}
			return
		}
		r.store(evt)
	}
}

func (r *Recorder) store(evt econet.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if _, err := r.record(ctx, evt); err != nil {
		r.logger.Warn("failed to record event", "kind", evt.Kind().String(), "error", err)
	}
}

// Pending returns the number of events waiting to be written.
func (r *Recorder) Pending() int {
	return r.queue.Len()
}

// Close stops the subscription and waits until every event received so far is written.
// It is safe to call more than once.
func (r *Recorder) Close() error {
	r.queue.Destroy()
	<-r.done

	return nil
}
