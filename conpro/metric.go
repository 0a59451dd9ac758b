package conpro

import "sync/atomic"

// ServiceMetrics contains atomic metrics for a service.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc, see NewMetricsCollector.
type ServiceMetrics struct {
	// SessionRegisterCount indicates the number of successful RegisterSession exchanges.
	SessionRegisterCount atomic.Uint64
	// SessionErrCount indicates the number of failed connect or RegisterSession attempts.
	SessionErrCount atomic.Uint64

	// ForwardOpenCount indicates the number of accepted Forward_Open requests.
	ForwardOpenCount atomic.Uint64
	// ForwardOpenErrCount indicates the number of rejected or failed Forward_Open requests.
	ForwardOpenErrCount atomic.Uint64

	// KeepAliveSendCount indicates the number of keep-alive datagrams sent.
	KeepAliveSendCount atomic.Uint64
	// KeepAliveErrCount indicates the number of keep-alive send errors.
	KeepAliveErrCount atomic.Uint64

	// DatagramRecvCount indicates the number of cyclic datagrams received.
	DatagramRecvCount atomic.Uint64
	// DatagramDropCount indicates the number of received datagrams that were malformed or unroutable.
	DatagramDropCount atomic.Uint64
	// DatagramErrCount indicates the number of cyclic receive errors other than timeouts.
	DatagramErrCount atomic.Uint64

	// ActiveConsumerGauge indicates the number of open consumers.
	ActiveConsumerGauge atomic.Int64
}

func (m *ServiceMetrics) incSessionRegisterCount() {
	m.SessionRegisterCount.Add(1)
}

func (m *ServiceMetrics) incSessionErrCount() {
	m.SessionErrCount.Add(1)
}

func (m *ServiceMetrics) incForwardOpenCount() {
	m.ForwardOpenCount.Add(1)
}

func (m *ServiceMetrics) incForwardOpenErrCount() {
	m.ForwardOpenErrCount.Add(1)
}

func (m *ServiceMetrics) incKeepAliveSendCount() {
	m.KeepAliveSendCount.Add(1)
}

func (m *ServiceMetrics) incKeepAliveErrCount() {
	m.KeepAliveErrCount.Add(1)
}

func (m *ServiceMetrics) incDatagramRecvCount() {
	m.DatagramRecvCount.Add(1)
}

func (m *ServiceMetrics) incDatagramDropCount() {
	m.DatagramDropCount.Add(1)
}

func (m *ServiceMetrics) incDatagramErrCount() {
	m.DatagramErrCount.Add(1)
}

func (m *ServiceMetrics) incActiveConsumerGauge() {
	m.ActiveConsumerGauge.Add(1)
}

func (m *ServiceMetrics) decActiveConsumerGauge() {
	m.ActiveConsumerGauge.Add(-1)
}
