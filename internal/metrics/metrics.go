package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Metrics contains all Prometheus metrics for the provider
type Metrics struct {
	// Request pipeline
	Requests         *prometheus.CounterVec
	BufferedRequests prometheus.Gauge
	DedupeQueued     *prometheus.CounterVec
	DedupeStarted    *prometheus.CounterVec

	// Readiness gate
	GateCount  prometheus.Gauge
	GateQueued prometheus.Gauge

	// Wallet connection
	WalletConnected prometheus.Gauge
	PushEvents      *prometheus.CounterVec

	// Discovery
	Announcements prometheus.Counter
}

// NewMetrics initializes and registers metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletprovider_requests_total",
				Help: "Provider requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		BufferedRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletprovider_buffered_requests",
			Help: "Requests held until the provider becomes ready",
		}),
		DedupeQueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletprovider_dedupe_queued_total",
				Help: "Calls that waited behind an in-flight call for the same method",
			},
			[]string{"method"},
		),
		DedupeStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletprovider_dedupe_started_total",
				Help: "Calls handed to the wallet transport",
			},
			[]string{"method"},
		),
		GateCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletprovider_gate_count",
			Help: "Current readiness gate counter",
		}),
		GateQueued: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletprovider_gate_queued",
			Help: "Operations waiting for the readiness gate to open",
		}),
		WalletConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletprovider_wallet_connected",
			Help: "1 while the wallet transport is connected",
		}),
		PushEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletprovider_push_events_total",
				Help: "Push events delivered by the wallet process",
			},
			[]string{"event"},
		),
		Announcements: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletprovider_announcements_total",
			Help: "Provider discovery announcements dispatched",
		}),
	}
}

// GateChanged implements gate.Observer
func (m *Metrics) GateChanged(count, threshold, queued int) {
	m.GateCount.Set(float64(count))
	m.GateQueued.Set(float64(queued))
}

// CallQueued implements dedupe.Observer
func (m *Metrics) CallQueued(method string) {
	m.DedupeQueued.WithLabelValues(method).Inc()
}

// CallStarted implements dedupe.Observer
func (m *Metrics) CallStarted(method string) {
	m.DedupeStarted.WithLabelValues(method).Inc()
}

// ObserveRequest records a finished provider request
func (m *Metrics) ObserveRequest(method, outcome string) {
	m.Requests.WithLabelValues(method, outcome).Inc()
}

// ObservePush records a delivered push event
func (m *Metrics) ObservePush(event string) {
	m.PushEvents.WithLabelValues(event).Inc()
}

// SetBuffered records the pre-ready buffer depth
func (m *Metrics) SetBuffered(n int) {
	m.BufferedRequests.Set(float64(n))
}

// ObserveAnnounce records a discovery announcement
func (m *Metrics) ObserveAnnounce() {
	m.Announcements.Inc()
}

// SetConnected records the wallet connection state
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.WalletConnected.Set(1)
		return
	}
	m.WalletConnected.Set(0)
}
