package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the archive server.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	chunksFinalizedTotal prometheus.Counter
	chunksDiscardedTotal prometheus.Counter
	framesCapturedTotal  prometheus.Counter
	captureFailuresTotal prometheus.Counter
	segmentsServedTotal  prometheus.Counter
	framesServedTotal    prometheus.Counter
	activeCaptures       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the archive server.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cctv_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cctv_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		chunksFinalizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cctv_chunks_finalized_total",
			Help: "Total number of chunk files persisted with a metadata record",
		}),
		chunksDiscardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cctv_chunks_discarded_total",
			Help: "Total number of chunk files removed because no frame was written",
		}),
		framesCapturedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cctv_frames_captured_total",
			Help: "Total number of frames written to chunk files",
		}),
		captureFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cctv_capture_failures_total",
			Help: "Total number of capture loops that ended in the ERROR state",
		}),
		segmentsServedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cctv_segments_served_total",
			Help: "Total number of reconstructed segments returned",
		}),
		framesServedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cctv_frames_served_total",
			Help: "Total number of single frames returned by timestamp",
		}),
		activeCaptures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cctv_active_captures",
			Help: "Number of capture loops currently registered",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.chunksFinalizedTotal,
		m.chunksDiscardedTotal,
		m.framesCapturedTotal,
		m.captureFailuresTotal,
		m.segmentsServedTotal,
		m.framesServedTotal,
		m.activeCaptures,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncChunksFinalized increments the finalized chunk counter.
func (m *Metrics) IncChunksFinalized() {
	m.chunksFinalizedTotal.Inc()
}

// IncChunksDiscarded increments the discarded (empty) chunk counter.
func (m *Metrics) IncChunksDiscarded() {
	m.chunksDiscardedTotal.Inc()
}

// AddFramesCaptured adds n to the captured frame counter.
func (m *Metrics) AddFramesCaptured(n int) {
	m.framesCapturedTotal.Add(float64(n))
}

// IncCaptureFailures increments the failed capture loop counter.
func (m *Metrics) IncCaptureFailures() {
	m.captureFailuresTotal.Inc()
}

// IncSegmentsServed increments the served segment counter.
func (m *Metrics) IncSegmentsServed() {
	m.segmentsServedTotal.Inc()
}

// IncFramesServed increments the served frame counter.
func (m *Metrics) IncFramesServed() {
	m.framesServedTotal.Inc()
}

// SetActiveCaptures sets the active captures gauge.
func (m *Metrics) SetActiveCaptures(n int) {
	m.activeCaptures.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active captures).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
