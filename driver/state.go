package driver

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/piconet-go/piconet/logger"
)

// ConnState is the state of the link between the driver and the board.
type ConnState uint32

const (
	// Disconnected is the initial state, and the state after a successful Close.
	Disconnected ConnState = iota
	// Connecting indicates that the transport is open and the board's status is being read.
	Connecting
	// Connected indicates that the board answered with a compatible status. Commands are accepted.
	Connected
	// Disconnecting indicates that Close is in progress.
	Disconnecting
	// Error indicates that Connect failed or the link was lost. A new Connect may be attempted.
	Error
)

// String returns string representation of the state.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// StateChangeHandler is invoked when the connection state changes.
//
// Note: the handler is invoked synchronously while the state lock is held. It must not call
// Connect or Close on the same driver.
type StateChangeHandler func(prev ConnState, next ConnState)

// connStateMgr holds the connection state and notifies handlers and waiters of transitions.
type connStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []StateChangeHandler
}

func newConnStateMgr(l logger.Logger) *connStateMgr {
	cs := &connStateMgr{logger: l}
	cs.cond = sync.NewCond(&cs.mu)
	cs.state.Store(uint32(Disconnected))

	return cs
}

func (cs *connStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

func (cs *connStateMgr) addHandler(handlers ...StateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handlers = append(cs.handlers, handlers...)
}

// transition moves to next if the current state is one of from, and reports whether it did.
func (cs *connStateMgr) transition(next ConnState, from ...ConnState) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cur := cs.State()
	if !slices.Contains(from, cur) {
		return false
	}
	cs.setLocked(cur, next)

	return true
}

// set moves to next unconditionally.
func (cs *connStateMgr) set(next ConnState) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cur := cs.State()
	if cur == next {
		return
	}
	cs.setLocked(cur, next)
}

func (cs *connStateMgr) setLocked(cur, next ConnState) {
	cs.state.Store(uint32(next))
	cs.logger.Debug("connection state changed", "prev_state", cur.String(), "new_state", next.String())

	for _, handler := range cs.handlers {
		handler(cur, next)
	}
	cs.cond.Broadcast()
}

// waitState waits until the state equals state or ctx is done.
func (cs *connStateMgr) waitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		cs.cond.Broadcast()
	})
	defer stopFunc()

	for cs.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		cs.cond.Wait()
	}

	return nil
}
