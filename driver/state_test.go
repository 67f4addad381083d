package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/piconet-go/piconet/logger"
)

func TestConnState(t *testing.T) {
	require := require.New(t)

	names := map[ConnState]string{
		Disconnected:  "Disconnected",
		Connecting:    "Connecting",
		Connected:     "Connected",
		Disconnecting: "Disconnecting",
		Error:         "Error",
		ConnState(99): "Unknown",
	}
	for state, name := range names {
		require.Equal(name, state.String())
	}
}

func TestConnStateMgr(t *testing.T) {
	t.Run("Initial State", func(t *testing.T) {
		require := require.New(t)
		cs := newConnStateMgr(logger.GetLogger())
		require.Equal(Disconnected, cs.State())
	})

	t.Run("Transition", func(t *testing.T) {
		require := require.New(t)
		cs := newConnStateMgr(logger.GetLogger())

		var changes [][2]ConnState
		cs.addHandler(func(prev, next ConnState) {
			changes = append(changes, [2]ConnState{prev, next})
		})

		require.False(cs.transition(Connected, Connecting))
		require.True(cs.transition(Connecting, Disconnected, Error))
		require.False(cs.transition(Connecting, Disconnected, Error))
		require.True(cs.transition(Connected, Connecting))
		cs.set(Connected)
		cs.set(Error)

		require.Equal([][2]ConnState{
			{Disconnected, Connecting},
			{Connecting, Connected},
			{Connected, Error},
		}, changes)
	})

	t.Run("WaitState", func(t *testing.T) {
		require := require.New(t)
		cs := newConnStateMgr(logger.GetLogger())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(cs.waitState(ctx, Disconnected))

		go func() {
			time.Sleep(20 * time.Millisecond)
			cs.set(Connecting)
			cs.set(Connected)
		}()
		require.NoError(cs.waitState(ctx, Connected))

		shortCtx, shortCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer shortCancel()
		require.ErrorIs(cs.waitState(shortCtx, Disconnected), context.DeadlineExceeded)
	})
}
