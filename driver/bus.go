package driver

import (
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/piconet-go/piconet/econet"
	"github.com/piconet-go/piconet/logger"
)

// Listener is a registered event callback.
//
// A Listener is identified by its pointer, so the same callback may be registered twice through
// two distinct listeners, while adding the same listener twice has no effect.
type Listener struct {
	fn func(econet.Event)
}

// NewListener wraps fn in a Listener handle.
func NewListener(fn func(econet.Event)) *Listener {
	return &Listener{fn: fn}
}

// Matcher is a predicate used to select events.
type Matcher func(econet.Event) bool

// MatchKind returns a matcher accepting events of any of the given kinds.
func MatchKind(kinds ...econet.EventKind) Matcher {
	return func(evt econet.Event) bool {
		return slices.Contains(kinds, evt.Kind())
	}
}

// MatchAll returns a matcher accepting events accepted by every one of ms.
func MatchAll(ms ...Matcher) Matcher {
	return func(evt econet.Event) bool {
		for _, m := range ms {
			if !m(evt) {
				return false
			}
		}
		return true
	}
}

// Bus fans events out to listeners, in registration order.
//
// Listeners run synchronously on the goroutine calling Fire, which for a driver is its reader
// goroutine. A listener must not block; a panicking listener is logged and skipped.
type Bus struct {
	mu        sync.Mutex
	listeners []*Listener // copy on write, never mutated in place
	members   *xsync.MapOf[*Listener, struct{}]
	logger    logger.Logger
	metrics   *Metrics
}

// NewBus creates a standalone bus.
func NewBus(l logger.Logger) *Bus {
	return newBus(l, &Metrics{})
}

func newBus(l logger.Logger, m *Metrics) *Bus {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Bus{
		members: xsync.NewMapOf[*Listener, struct{}](),
		logger:  l,
		metrics: m,
	}
}

// AddListener registers l. Adding a registered listener, or nil, has no effect.
func (b *Bus) AddListener(l *Listener) {
	if l == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, loaded := b.members.LoadOrStore(l, struct{}{}); loaded {
		return
	}
	listeners := make([]*Listener, len(b.listeners), len(b.listeners)+1)
	copy(listeners, b.listeners)
	b.listeners = append(listeners, l)
}

// RemoveListener deregisters l. If a Fire is in progress and l has not been invoked yet,
// l does not receive the event.
func (b *Bus) RemoveListener(l *Listener) {
	if l == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, loaded := b.members.LoadAndDelete(l); !loaded {
		return
	}
	b.listeners = slices.DeleteFunc(slices.Clone(b.listeners), func(other *Listener) bool {
		return other == l
	})
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	return b.members.Size()
}

// Fire delivers evt to every registered listener.
func (b *Bus) Fire(evt econet.Event) {
	b.mu.Lock()
	snapshot := b.listeners
	b.mu.Unlock()

	b.metrics.incEventsFired()

	for _, l := range snapshot {
		if _, ok := b.members.Load(l); !ok {
			continue
		}
		b.invoke(l, evt)
	}
}

// invoke calls the listener with panic protection.
func (b *Bus) invoke(l *Listener, evt econet.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.incListenerPanics()
			b.logger.Error("panic in event listener", "event", evt.Kind().String(), "panic", r)
		}
	}()

	if l.fn != nil {
		l.fn(evt)
	}
}
