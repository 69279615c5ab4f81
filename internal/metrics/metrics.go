// v1
// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensorcore"

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	executions        *prometheus.CounterVec
	decodedSamples    *prometheus.CounterVec
	violations        *prometheus.CounterVec
	fitRSquared       prometheus.Histogram
	sinkPublish       *prometheus.CounterVec
	capturesConsumed  *prometheus.CounterVec
	cbState           *prometheus.GaugeVec
}

// New builds the collectors on a private registry so several instances can
// coexist in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Test method executions by test instance and exit port.",
		}, []string{"test", "port"}),
		decodedSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoded_samples_total",
			Help:      "Sensor samples decoded from captures, per configuration.",
		}, []string{"config"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_violations_total",
			Help:      "Limit violations by configuration and sensor.",
		}, []string{"config", "sensor"}),
		fitRSquared: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_r_squared",
			Help:      "Coefficient of determination of FIVR fits.",
			Buckets:   []float64{0.5, 0.8, 0.9, 0.95, 0.99, 0.999, 1},
		}),
		sinkPublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_publish_total",
			Help:      "Envelope publish attempts by sink and result.",
		}, []string{"sink", "result"}),
		capturesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_consumed_total",
			Help:      "Capture messages read from kafka by result.",
		}, []string{"result"}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cb_state",
			Help:      "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.executions,
		m.decodedSamples,
		m.violations,
		m.fitRSquared,
		m.sinkPublish,
		m.capturesConsumed,
		m.cbState,
	)
	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Execution(test string, port int) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(test, strconv.Itoa(port)).Inc()
}

func (m *Metrics) Decoded(config string, samples int) {
	if m == nil {
		return
	}
	m.decodedSamples.WithLabelValues(config).Add(float64(samples))
}

func (m *Metrics) Violation(config, sensor string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(config, sensor).Inc()
}

func (m *Metrics) Fit(rSquared float64) {
	if m == nil {
		return
	}
	m.fitRSquared.Observe(rSquared)
}

// SinkPublished satisfies sink.Observer.
func (m *Metrics) SinkPublished(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sinkPublish.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) CaptureConsumed(result string) {
	if m == nil {
		return
	}
	m.capturesConsumed.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCircuitBreakerState(target string, state float64) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(state)
}
