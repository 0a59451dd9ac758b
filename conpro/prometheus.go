package conpro

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsSubsystem = "conpro"

type metricsCollector struct {
	collectors []prometheus.Collector
}

var _ prometheus.Collector = (*metricsCollector)(nil)

// NewMetricsCollector returns a prometheus.Collector exposing m as counter and gauge funcs.
//
// The collector reads the atomics at scrape time; register it once per service:
//
//	prometheus.MustRegister(conpro.NewMetricsCollector("plant", svc.GetMetrics()))
func NewMetricsCollector(namespace string, m *ServiceMetrics) prometheus.Collector {
	counter := func(name string, help string, v func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v()) })
	}

	return &metricsCollector{
		collectors: []prometheus.Collector{
			counter("session_registrations_total", "Successful RegisterSession exchanges.", m.SessionRegisterCount.Load),
			counter("session_errors_total", "Failed session connect or registration attempts.", m.SessionErrCount.Load),
			counter("forward_open_total", "Accepted Forward_Open requests.", m.ForwardOpenCount.Load),
			counter("forward_open_errors_total", "Rejected or failed Forward_Open requests.", m.ForwardOpenErrCount.Load),
			counter("keepalive_sent_total", "Keep-alive datagrams sent.", m.KeepAliveSendCount.Load),
			counter("keepalive_errors_total", "Keep-alive send errors.", m.KeepAliveErrCount.Load),
			counter("datagrams_received_total", "Cyclic datagrams received.", m.DatagramRecvCount.Load),
			counter("datagrams_dropped_total", "Malformed or unroutable cyclic datagrams.", m.DatagramDropCount.Load),
			counter("receive_errors_total", "Cyclic receive errors other than timeouts.", m.DatagramErrCount.Load),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: metricsSubsystem,
				Name:      "active_consumers",
				Help:      "Open consumer connections.",
			}, func() float64 { return float64(m.ActiveConsumerGauge.Load()) }),
		},
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, col := range c.collectors {
		col.Describe(ch)
	}
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	for _, col := range c.collectors {
		col.Collect(ch)
	}
}
