// Package metrics exposes guard counters to Prometheus. A nil *Metrics is
// valid and records nothing, so components never need to check for it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry         *prometheus.Registry
	admissions       *prometheus.CounterVec
	blocks           *prometheus.CounterVec
	bytes            prometheus.Counter
	storeErrors      prometheus.Counter
	listenerRejected *prometheus.CounterVec
	active           prometheus.Gauge
}

// New builds the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpguard_admissions_total",
			Help: "Connection admission decisions by result.",
		}, []string{"result"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpguard_blocks_total",
			Help: "Sources blocked, by reason.",
		}, []string{"reason"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpguard_bytes_total",
			Help: "Bytes received from admitted connections.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpguard_store_errors_total",
			Help: "State store calls that failed.",
		}),
		listenerRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpguard_listener_rejected_total",
			Help: "Connections closed by the global accept guard.",
		}, []string{"reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcpguard_active_connections",
			Help: "Connections currently being handled.",
		}),
	}
	reg.MustRegister(m.admissions, m.blocks, m.bytes, m.storeErrors, m.listenerRejected, m.active)
	reg.MustRegister(prometheus.NewGoCollector())
	return m
}

func (m *Metrics) Admission(result string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
}

func (m *Metrics) Block(reason string) {
	if m == nil {
		return
	}
	m.blocks.WithLabelValues(reason).Inc()
}

func (m *Metrics) Bytes(n int) {
	if m == nil {
		return
	}
	m.bytes.Add(float64(n))
}

func (m *Metrics) StoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

func (m *Metrics) ListenerRejected(reason string) {
	if m == nil {
		return
	}
	m.listenerRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
