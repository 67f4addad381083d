package driver

import "sync/atomic"

// Metrics contains atomic counters for a driver.
// Metrics can be used as the value of a prometheus CounterFunc.
type Metrics struct {
	// LinesRecv indicates the number of lines read from the transport.
	LinesRecv atomic.Uint64
	// LinesDiscarded indicates the number of lines dropped because the driver was not connected.
	LinesDiscarded atomic.Uint64
	// EventsFired indicates the number of events published on the bus.
	EventsFired atomic.Uint64
	// ProtocolErrors indicates the number of malformed lines received.
	ProtocolErrors atomic.Uint64
	// CommandsSent indicates the number of command lines written to the transport.
	CommandsSent atomic.Uint64
	// WaitTimeouts indicates the number of event waits that timed out.
	WaitTimeouts atomic.Uint64
	// ListenerPanics indicates the number of listener invocations that panicked.
	ListenerPanics atomic.Uint64
	// ConnectAttempts indicates the number of Connect calls.
	ConnectAttempts atomic.Uint64
}

func (m *Metrics) incLinesRecv()       { m.LinesRecv.Add(1) }
func (m *Metrics) incLinesDiscarded()  { m.LinesDiscarded.Add(1) }
func (m *Metrics) incEventsFired()     { m.EventsFired.Add(1) }
func (m *Metrics) incProtocolErrors()  { m.ProtocolErrors.Add(1) }
func (m *Metrics) incCommandsSent()    { m.CommandsSent.Add(1) }
func (m *Metrics) incWaitTimeouts()    { m.WaitTimeouts.Add(1) }
func (m *Metrics) incListenerPanics()  { m.ListenerPanics.Add(1) }
func (m *Metrics) incConnectAttempts() { m.ConnectAttempts.Add(1) }
