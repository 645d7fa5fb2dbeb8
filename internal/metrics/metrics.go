package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	Assessments      *prometheus.CounterVec
	NarrativeSources *prometheus.CounterVec
	Simulations      prometheus.Counter
	HistoryErrors    prometheus.Counter
	EngineLatency    *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Pass nil for a private registry,
// which keeps tests and multiple servers from colliding.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Assessments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthrisk_assessments_total",
				Help: "Risk assessments produced, by condition and risk level",
			},
			[]string{"condition", "level"},
		),
		NarrativeSources: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthrisk_narratives_total",
				Help: "Narratives returned, by source (llm, cache, template)",
			},
			[]string{"source"},
		),
		Simulations: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthrisk_simulations_total",
			Help: "Trajectory simulations run",
		}),
		HistoryErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthrisk_history_errors_total",
			Help: "Assessment history writes that failed",
		}),
		EngineLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "healthrisk_engine_duration_seconds",
				Help:    "Time spent in engine operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthrisk_http_requests_total",
				Help: "HTTP requests, by route and status code",
			},
			[]string{"route", "status"},
		),
		gatherer: reg,
	}
}

// ObserveSince records the elapsed time for an operation.
func (m *Metrics) ObserveSince(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.EngineLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
