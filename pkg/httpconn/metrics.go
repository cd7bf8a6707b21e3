package httpconn

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors, registered once at init time — the same shape
// as the teacher's pkg/celeris/metrics.go Prometheus middleware, adapted
// from server-side request counters to client-side exchange counters.
var (
	clientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpconn_client_requests_total",
			Help: "Total number of HTTP/1.x client requests completed.",
		},
		[]string{"method", "status"},
	)

	clientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpconn_client_request_duration_seconds",
			Help:    "HTTP/1.x client request duration in seconds, from request_begin to response_end.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	clientRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpconn_client_requests_in_flight",
			Help: "Current number of in-flight HTTP/1.x client exchanges.",
		},
	)

	clientResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpconn_client_response_size_bytes",
			Help:    "HTTP/1.x client response body size in bytes.",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "status"},
	)

	clientRequestResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpconn_client_request_resets_total",
			Help: "Total number of client requests reset before completing.",
		},
	)

	clientEndpointDisconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "httpconn_client_endpoint_disconnects_total",
			Help: "Total number of client connections that observed a transport close.",
		},
	)
)

// metricHandle is the opaque handle threaded through the Metrics contract
// (spec.md §6), holding just enough state between RequestBegin and
// ResponseEnd/RequestReset to label the Prometheus series.
type metricHandle struct {
	start  time.Time
	method string
	status int
}

// PrometheusMetrics is a Metrics implementation backed by
// github.com/prometheus/client_golang, grounded on the teacher's
// promauto-based collectors.
type PrometheusMetrics struct{}

// NewPrometheusMetrics returns a ready-to-use PrometheusMetrics.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{}
}

func (m *PrometheusMetrics) RequestBegin(uri string, req RequestHead) interface{} {
	clientRequestsInFlight.Inc()
	return &metricHandle{start: time.Now(), method: string(req.Method)}
}

func (m *PrometheusMetrics) ResponseBegin(handle interface{}, resp ResponseHead) {
	h, ok := handle.(*metricHandle)
	if !ok || h == nil {
		return
	}
	h.status = resp.StatusCode
}

func (m *PrometheusMetrics) ResponseEnd(handle interface{}, bytesRead int64) {
	h, ok := handle.(*metricHandle)
	if !ok || h == nil {
		return
	}
	clientRequestsInFlight.Dec()
	status := strconv.Itoa(h.status)
	clientRequestsTotal.WithLabelValues(h.method, status).Inc()
	clientRequestDuration.WithLabelValues(h.method, status).Observe(time.Since(h.start).Seconds())
	clientResponseSize.WithLabelValues(h.method, status).Observe(float64(bytesRead))
}

func (m *PrometheusMetrics) RequestEnd(handle interface{}, bytesWritten int64) {
	// Bytes written are not recorded by any collector; the response-size
	// histogram observes bytes read only.
}

func (m *PrometheusMetrics) RequestReset(handle interface{}) {
	clientRequestResetsTotal.Inc()
	if _, ok := handle.(*metricHandle); ok {
		clientRequestsInFlight.Dec()
	}
}

func (m *PrometheusMetrics) EndpointDisconnected() {
	clientEndpointDisconnectsTotal.Inc()
}

func (m *PrometheusMetrics) Connected(ws *WebSocket) interface{} {
	return nil
}
