// Package metrics exports the counters and connection state of a driver to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/piconet-go/piconet/driver"
)

const defaultNamespace = "piconet"

var states = []driver.ConnState{
	driver.Disconnected,
	driver.Connecting,
	driver.Connected,
	driver.Disconnecting,
	driver.Error,
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(m *driver.Metrics) uint64
}

// Collector is a prometheus.Collector reading a driver's Metrics on every scrape.
type Collector struct {
	d        *driver.Driver
	counters []counterDesc
	state    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for d. An empty namespace defaults to "piconet".
// constLabels are attached to every metric, e.g. to tell several boards apart.
func NewCollector(d *driver.Driver, namespace string, constLabels prometheus.Labels) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}

	counter := func(name, help string, value func(m *driver.Metrics) uint64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, constLabels),
			value: value,
		}
	}

	return &Collector{
		d: d,
		counters: []counterDesc{
			counter("lines_received_total", "Lines read from the board.",
				func(m *driver.Metrics) uint64 { return m.LinesRecv.Load() }),
			counter("lines_discarded_total", "Lines dropped because the driver was not connected.",
				func(m *driver.Metrics) uint64 { return m.LinesDiscarded.Load() }),
			counter("events_fired_total", "Events published to listeners.",
				func(m *driver.Metrics) uint64 { return m.EventsFired.Load() }),
			counter("protocol_errors_total", "Malformed lines received from the board.",
				func(m *driver.Metrics) uint64 { return m.ProtocolErrors.Load() }),
			counter("commands_sent_total", "Command lines written to the board.",
				func(m *driver.Metrics) uint64 { return m.CommandsSent.Load() }),
			counter("wait_timeouts_total", "Event waits that timed out.",
				func(m *driver.Metrics) uint64 { return m.WaitTimeouts.Load() }),
			counter("listener_panics_total", "Listener invocations that panicked.",
				func(m *driver.Metrics) uint64 { return m.ListenerPanics.Load() }),
			counter("connect_attempts_total", "Calls to Connect.",
				func(m *driver.Metrics) uint64 { return m.ConnectAttempts.Load() }),
		},
		state: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "connection_state"),
			"Current connection state of the driver, 1 for the active state.", []string{"state"}, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	ch <- c.state
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.d.Metrics()
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(m)))
	}

	cur := c.d.State()
	for _, s := range states {
		v := 0.0
		if s == cur {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}
}
