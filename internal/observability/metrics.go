// Package observability wires the prometheus metrics surface.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics owns the prometheus registry and the pipeline instruments.
// A nil *Metrics is valid; every method no-ops.
type Metrics struct {
	registry *prometheus.Registry

	eventsProcessed *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	alertsEmitted   *prometheus.CounterVec
	storeFailures   prometheus.Counter
	detectorPanics  prometheus.Counter
	probes          *prometheus.CounterVec
	blocksActive    prometheus.Gauge
	ringSize        prometheus.Gauge
	wsClients       prometheus.Gauge

	logger *zap.SugaredLogger
}

// NewMetrics builds the registry with process/Go collectors plus the
// pipeline instruments.
func NewMetrics(logger *zap.SugaredLogger) *Metrics {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &Metrics{registry: prometheus.NewRegistry(), logger: logger}

	m.eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowhunter_events_processed_total",
		Help: "Flow events processed by the analyzer, by outcome.",
	}, []string{"outcome"})
	m.eventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowhunter_events_dropped_total",
		Help: "Flow events dropped before analysis, by reason.",
	}, []string{"reason"})
	m.alertsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowhunter_alerts_total",
		Help: "Alerts emitted, by severity.",
	}, []string{"severity"})
	m.storeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadowhunter_store_failures_total",
		Help: "Graph store writes that failed after all retries.",
	})
	m.detectorPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadowhunter_detector_panics_total",
		Help: "Detector panics contained by the registry.",
	})
	m.probes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowhunter_probes_total",
		Help: "Active-defense probes, by outcome.",
	}, []string{"outcome"})
	m.blocksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shadowhunter_blocks_active",
		Help: "Currently active blocklist entries.",
	})
	m.ringSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shadowhunter_alert_ring_size",
		Help: "Alerts currently held in the ring buffer.",
	})
	m.wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shadowhunter_websocket_clients",
		Help: "Connected WebSocket clients.",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsProcessed,
		m.eventsDropped,
		m.alertsEmitted,
		m.storeFailures,
		m.detectorPanics,
		m.probes,
		m.blocksActive,
		m.ringSize,
		m.wsClients,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventProcessed(outcome string) {
	if m != nil {
		m.eventsProcessed.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) EventDropped(reason string) {
	if m != nil {
		m.eventsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AlertEmitted(severity string) {
	if m != nil {
		m.alertsEmitted.WithLabelValues(severity).Inc()
	}
}

func (m *Metrics) StoreFailure() {
	if m != nil {
		m.storeFailures.Inc()
	}
}

func (m *Metrics) DetectorPanic() {
	if m != nil {
		m.detectorPanics.Inc()
	}
}

// WatchBrokerDrops exposes the broker's cumulative drop counter on the
// registry. Call once, after the broker exists.
func (m *Metrics) WatchBrokerDrops(dropped func() uint64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "shadowhunter_broker_dropped_total",
		Help: "Messages dropped by the broker due to full subscriber queues.",
	}, func() float64 { return float64(dropped()) }))
}

func (m *Metrics) Probe(outcome string) {
	if m != nil {
		m.probes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetActiveBlocks(n int) {
	if m != nil {
		m.blocksActive.Set(float64(n))
	}
}

func (m *Metrics) SetRingSize(n int) {
	if m != nil {
		m.ringSize.Set(float64(n))
	}
}

func (m *Metrics) WSClientConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) WSClientDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}
