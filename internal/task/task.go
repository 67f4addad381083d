// Package task runs the long-lived goroutines of a driver connection.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/piconet-go/piconet/logger"
)

// ErrStopped is returned when a task is started on a stopped Manager.
var ErrStopped = errors.New("task: manager already stopped")

// Func performs one iteration of a task. It should return true to continue running the task,
// or false to stop the goroutine.
//
// ctx is cancelled when the Manager is stopped and should be passed to blocking calls.
type Func func(ctx context.Context) bool

// ExitFunc is called when a goroutine managed by the Manager exits, whatever the reason.
type ExitFunc func()

// Manager manages the lifecycle of goroutines (tasks) of a connection.
//
// Stop cancels the context shared by all tasks; Wait blocks until they have returned and
// re-arms the Manager, so that it can be used again for the next connection.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("reader", func(ctx context.Context) bool {
//	    line, err := t.ReadLine(ctx)
//	    // ... handle line ...
//	    return err == nil
//	}, nil)
//
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
	taskMu sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a new Manager with the given context as the parent context.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)
	return mgr
}

func (mgr *Manager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a new goroutine running fn in a loop until it returns false, panics, or the
// Manager is stopped. onExit, when not nil, is called as the goroutine exits.
func (mgr *Manager) Start(name string, fn Func, onExit ExitFunc) error {
	mgr.logger.Debug("start task", "name", name)

	ctx := mgr.getContext()
	select {
	case <-ctx.Done():
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	default:
	}

	started := make(chan struct{})

	mgr.taskMu.RLock()
	mgr.wg.Add(1)
	mgr.taskMu.RUnlock()

	go func() {
		defer mgr.wg.Done()

		mgr.count.Add(1)
		close(started)

		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.Count())
		}()
		if onExit != nil {
			defer onExit()
		}

		mgr.runLoop(ctx, name, fn)
	}()

	select {
	case <-started:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for %s to start", name)
	}
}

// runLoop runs fn until it returns false or ctx is cancelled.
func (mgr *Manager) runLoop(ctx context.Context, name string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !fn(ctx) {
				return
			}
		}
	}
}

// Stop signals all running goroutines to terminate.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate, then prepares a fresh context for later tasks.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// Count returns the number of currently running goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}
