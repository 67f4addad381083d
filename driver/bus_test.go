package driver

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/piconet-go/piconet/econet"
	"github.com/piconet-go/piconet/logger"
)

func TestBus_AddRemove(t *testing.T) {
	require := require.New(t)
	bus := NewBus(logger.GetLogger())

	var got []econet.Event
	l := NewListener(func(evt econet.Event) { got = append(got, evt) })

	bus.AddListener(l)
	bus.AddListener(l)
	bus.AddListener(nil)
	require.Equal(1, bus.Len())

	first := econet.TxResultEvent{Result: econet.ResultOK}
	bus.Fire(first)
	require.Equal([]econet.Event{first}, got)

	bus.RemoveListener(l)
	bus.RemoveListener(l)
	require.Equal(0, bus.Len())

	bus.Fire(econet.ErrorEvent{Description: "late"})
	require.Equal([]econet.Event{first}, got)
}

func TestBus_SameCallbackDistinctListeners(t *testing.T) {
	require := require.New(t)
	bus := NewBus(logger.GetLogger())

	count := 0
	fn := func(econet.Event) { count++ }
	bus.AddListener(NewListener(fn))
	bus.AddListener(NewListener(fn))

	bus.Fire(econet.ErrorEvent{Description: "x"})
	require.Equal(2, count)
}

func TestBus_Order(t *testing.T) {
	require := require.New(t)
	bus := NewBus(logger.GetLogger())

	var order []int
	for i := range 5 {
		bus.AddListener(NewListener(func(econet.Event) { order = append(order, i) }))
	}

	bus.Fire(econet.StatusEvent{})
	require.Equal([]int{0, 1, 2, 3, 4}, order)
}

func TestBus_RemoveDuringFire(t *testing.T) {
	require := require.New(t)
	bus := NewBus(logger.GetLogger())

	var calls []string
	var second *Listener
	first := NewListener(func(econet.Event) {
		calls = append(calls, "first")
		bus.RemoveListener(second)
	})
	second = NewListener(func(econet.Event) { calls = append(calls, "second") })
	var self *Listener
	self = NewListener(func(econet.Event) {
		calls = append(calls, "self")
		bus.RemoveListener(self)
	})

	bus.AddListener(self)
	bus.AddListener(first)
	bus.AddListener(second)

	bus.Fire(econet.StatusEvent{})
	require.Equal([]string{"self", "first"}, calls)

	bus.Fire(econet.StatusEvent{})
	require.Equal([]string{"self", "first", "first"}, calls)
}

func TestBus_AddDuringFire(t *testing.T) {
	require := require.New(t)
	bus := NewBus(logger.GetLogger())

	added := 0
	late := NewListener(func(econet.Event) { added++ })
	bus.AddListener(NewListener(func(econet.Event) { bus.AddListener(late) }))

	bus.Fire(econet.StatusEvent{})
	require.Equal(0, added)

	bus.Fire(econet.StatusEvent{})
	require.Equal(1, added)
}

func TestBus_PanicIsolation(t *testing.T) {
	require := require.New(t)

	mockLogger := logger.NewMockLogger()
	mockLogger.On("Error", "panic in event listener", mock.Anything).Return().Once()
	bus := NewBus(mockLogger)

	delivered := false
	bus.AddListener(NewListener(func(econet.Event) { panic("boom") }))
	bus.AddListener(NewListener(func(econet.Event) { delivered = true }))

	require.NotPanics(func() { bus.Fire(econet.ErrorEvent{Description: "x"}) })
	require.True(delivered)
	require.EqualValues(1, bus.metrics.ListenerPanics.Load())
	require.EqualValues(1, bus.metrics.EventsFired.Load())
	mockLogger.AssertExpectations(t)
}

func TestBus_Concurrency(t *testing.T) {
	require := require.New(t)
	bus := NewBus(logger.GetLogger())

	var wg sync.WaitGroup
	listeners := make([]*Listener, 100)
	for i := range listeners {
		listeners[i] = NewListener(func(econet.Event) {})
	}

	for _, l := range listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.AddListener(l)
			bus.Fire(econet.StatusEvent{})
		}()
	}
	wg.Wait()
	require.Equal(100, bus.Len())

	for _, l := range listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.RemoveListener(l)
		}()
	}
	wg.Wait()
	require.Equal(0, bus.Len())
}

func TestMatchers(t *testing.T) {
	require := require.New(t)

	status := econet.StatusEvent{EconetStation: 32}
	tx := econet.TxResultEvent{Result: econet.ResultOK}

	m := MatchKind(econet.KindStatus, econet.KindError)
	require.True(m(status))
	require.False(m(tx))
	require.False(MatchKind()(status))

	station32 := func(evt econet.Event) bool {
		s, ok := evt.(econet.StatusEvent)
		return ok && s.EconetStation == 32
	}
	require.True(MatchAll(m, station32)(status))
	require.False(MatchAll(m, station32)(econet.StatusEvent{EconetStation: 1}))
	require.True(MatchAll()(tx))
}
