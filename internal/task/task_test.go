package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/piconet-go/piconet/logger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestManager_Start(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mockLogger := logger.NewMockLogger()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Return()

	mgr := NewManager(ctx, mockLogger)

	var iterations atomic.Int32
	var exited atomic.Bool
	err := mgr.Start("reader", func(ctx context.Context) bool {
		iterations.Add(1)
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Millisecond):
		}
		return true
	}, func() { exited.Store(true) })
	require.NoError(err)

	require.Eventually(func() bool { return iterations.Load() > 1 }, time.Second, 5*time.Millisecond)
	require.Equal(1, mgr.Count())

	mgr.Stop()
	mgr.Wait()

	require.Equal(0, mgr.Count())
	require.True(exited.Load())
	mockLogger.AssertNotCalled(t, "Error", mock.Anything, mock.Anything)
}

func TestManager_TaskReturnsFalse(t *testing.T) {
	require := require.New(t)

	mgr := NewManager(context.Background(), logger.NewMockLogger().Permissive())

	done := make(chan struct{})
	require.NoError(mgr.Start("once", func(context.Context) bool { return false }, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail("task should have exited")
	}
	mgr.Wait()
	require.Equal(0, mgr.Count())
}

func TestManager_Panic(t *testing.T) {
	require := require.New(t)

	mockLogger := logger.NewMockLogger()
	mockLogger.On("Debug", mock.Anything, mock.Anything).Return()
	mockLogger.On("Error", "panic in task loop", mock.Anything).Return().Once()

	mgr := NewManager(context.Background(), mockLogger)

	var exited atomic.Bool
	require.NoError(mgr.Start("panicky", func(context.Context) bool { panic("boom") }, func() { exited.Store(true) }))
	mgr.Wait()

	require.True(exited.Load())
	mockLogger.AssertExpectations(t)
}

func TestManager_Restart(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(ctx, logger.NewMockLogger().Permissive())
	block := func(ctx context.Context) bool {
		<-ctx.Done()
		return false
	}

	require.NoError(mgr.Start("first", block, nil))
	mgr.Stop()
	require.ErrorIs(mgr.Start("rejected", block, nil), ErrStopped)
	mgr.Wait()

	require.NoError(mgr.Start("second", block, nil))
	require.Equal(1, mgr.Count())
	mgr.Stop()
	mgr.Wait()
	require.Equal(0, mgr.Count())

	cancel()
	require.ErrorIs(mgr.Start("parent cancelled", block, nil), ErrStopped)
}
