package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the relay service.
// A nil *Metrics records nothing.
type Metrics struct {
	registry                   *prometheus.Registry
	requestsTotal              prometheus.Counter
	errorsTotal                prometheus.Counter
	relaysStartedTotal         prometheus.Counter
	relayFailuresTotal         *prometheus.CounterVec
	segmentsRelayedTotal       prometheus.Counter
	bytesRelayedTotal          prometheus.Counter
	manifestReloadsTotal       prometheus.Counter
	manifestParseFailuresTotal prometheus.Counter
	activeRelays               prometheus.Gauge
}

// New creates and registers Prometheus metrics for the relay service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_relay_http_requests_total",
		Help: "Total number of HTTP requests received by the control API",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_relay_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	relaysStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_relay_started_total",
		Help: "Total number of relays that reached the listening state",
	})
	relayFailuresTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_relay_failures_total",
		Help: "Total number of relay failures by stage",
	}, []string{"stage"})
	segmentsRelayedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_relay_segments_total",
		Help: "Total number of segments written to relay clients",
	})
	bytesRelayedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_relay_bytes_total",
		Help: "Total number of segment bytes written to relay clients",
	})
	manifestReloadsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_manifest_reloads_total",
		Help: "Total number of manifest loads that produced new content",
	})
	manifestParseFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_manifest_parse_failures_total",
		Help: "Total number of manifests rejected by the parser",
	})
	activeRelays := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_relay_active",
		Help: "Number of relays that have not finished",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		relaysStartedTotal,
		relayFailuresTotal,
		segmentsRelayedTotal,
		bytesRelayedTotal,
		manifestReloadsTotal,
		manifestParseFailuresTotal,
		activeRelays,
	)

	return &Metrics{
		registry:                   registry,
		requestsTotal:              requestsTotal,
		errorsTotal:                errorsTotal,
		relaysStartedTotal:         relaysStartedTotal,
		relayFailuresTotal:         relayFailuresTotal,
		segmentsRelayedTotal:       segmentsRelayedTotal,
		bytesRelayedTotal:          bytesRelayedTotal,
		manifestReloadsTotal:       manifestReloadsTotal,
		manifestParseFailuresTotal: manifestParseFailuresTotal,
		activeRelays:               activeRelays,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncRelaysStarted increments the started relays counter.
func (m *Metrics) IncRelaysStarted() {
	if m == nil {
		return
	}
	m.relaysStartedTotal.Inc()
}

// IncRelayFailures increments the failure counter for stage
// (e.g. "kickstart", "producer", "consumer").
func (m *Metrics) IncRelayFailures(stage string) {
	if m == nil {
		return
	}
	m.relayFailuresTotal.WithLabelValues(stage).Inc()
}

// AddSegmentRelayed records one segment of n bytes written to a client.
func (m *Metrics) AddSegmentRelayed(n int) {
	if m == nil {
		return
	}
	m.segmentsRelayedTotal.Inc()
	m.bytesRelayedTotal.Add(float64(n))
}

// IncManifestReloads increments the manifest reload counter.
func (m *Metrics) IncManifestReloads() {
	if m == nil {
		return
	}
	m.manifestReloadsTotal.Inc()
}

// IncManifestParseFailures increments the parse failure counter.
func (m *Metrics) IncManifestParseFailures() {
	if m == nil {
		return
	}
	m.manifestParseFailuresTotal.Inc()
}

// SetActiveRelays sets the active relays gauge.
func (m *Metrics) SetActiveRelays(n int) {
	if m == nil {
		return
	}
	m.activeRelays.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active relays).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
