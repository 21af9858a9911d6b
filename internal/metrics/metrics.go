package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Generation describes one finished model call inside a fan-out
type Generation struct {
	Model        string // provider-side model id
	Success      bool
	Duration     time.Duration
	TTFT         *float64
	TPS          *float64
	OutputTokens *int
	InputTokens  *int
}

// Metrics exposes evaluator metrics (e.g. Prometheus handler).
type Metrics interface {
	HTTPHandler() http.Handler
	ObserveGeneration(g Generation)
	ObserveFanOut(operation string, width int, duration time.Duration)
	ObserveRequest(method, route string, status int, duration time.Duration)
}

// NoopMetrics discards everything; /metrics answers 204.
type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (m *NoopMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func (m *NoopMetrics) ObserveGeneration(Generation) {}
func (m *NoopMetrics) ObserveFanOut(string, int, time.Duration) {}
func (m *NoopMetrics) ObserveRequest(string, string, int, time.Duration) {}

const (
	namespace = "llm_evaluator"
	subsystem = "chat"
)

// PrometheusMetrics records into its own registry so tests and multiple
// instances never collide on the global one.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	generationsTotal *prometheus.CounterVec
	generationTime   *prometheus.HistogramVec
	firstToken       *prometheus.HistogramVec
	tokensPerSecond  *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec

	fanOutWidth    *prometheus.HistogramVec
	fanOutDuration *prometheus.HistogramVec

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,

		generationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generations_total",
			Help:      "Model calls by outcome",
		}, []string{"model", "outcome"}),

		generationTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_duration_seconds",
			Help:      "Wall-clock duration of one model call",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"model"}),

		firstToken: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "first_token_seconds",
			Help:      "Time to first non-empty content delta",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"model"}),

		tokensPerSecond: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tokens_per_second",
			Help:      "Output throughput after the first token",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 200, 500},
		}, []string{"model"}),

		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tokens_total",
			Help:      "Tokens consumed and produced",
		}, []string{"model", "type"}),

		fanOutWidth: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fanout_width",
			Help:      "Number of models called in one fan-out",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}, []string{"operation"}),

		fanOutDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fanout_duration_seconds",
			Help:      "Time until every call of a fan-out has settled",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"operation"}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"method", "route"}),
	}
}

func (m *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *PrometheusMetrics) ObserveGeneration(g Generation) {
	outcome := "success"
	if !g.Success {
		outcome = "failure"
	}
	m.generationsTotal.WithLabelValues(g.Model, outcome).Inc()
	m.generationTime.WithLabelValues(g.Model).Observe(g.Duration.Seconds())

	if g.TTFT != nil {
		m.firstToken.WithLabelValues(g.Model).Observe(*g.TTFT)
	}
	if g.TPS != nil {
		m.tokensPerSecond.WithLabelValues(g.Model).Observe(*g.TPS)
	}
	if g.OutputTokens != nil {
		m.tokensTotal.WithLabelValues(g.Model, "output").Add(float64(*g.OutputTokens))
	}
	if g.InputTokens != nil {
		m.tokensTotal.WithLabelValues(g.Model, "input").Add(float64(*g.InputTokens))
	}
}

func (m *PrometheusMetrics) ObserveFanOut(operation string, width int, duration time.Duration) {
	m.fanOutWidth.WithLabelValues(operation).Observe(float64(width))
	m.fanOutDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
