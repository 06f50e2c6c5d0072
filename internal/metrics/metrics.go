package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricsNamespace          = "groundwise"
	MetricsSubsystemResponses = "responses"
	MetricsSubsystemPipeline  = "pipeline"
)

type Metrics interface {
	Handler() http.Handler

	ObserveResponse(state string, seconds float64)
	ObserveFinalView(markers int, tablePhase string)
	IncrementLiveUpdatesDropped()
}

type metrics struct {
	registry *prometheus.Registry

	responsesTotal     *prometheus.CounterVec
	responseDuration   *prometheus.HistogramVec
	markersTotal       prometheus.Counter
	tablesTotal        *prometheus.CounterVec
	liveUpdatesDropped prometheus.Counter
}

// NewMetrics Factory method to create a new metrics collector.
func NewMetrics() Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.responsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemResponses,
			Name:      "total",
			Help:      "Responses by terminal state.",
		},
		[]string{"state"},
	)
	m.registry.MustRegister(m.responsesTotal)

	m.responseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemResponses,
			Name:      "duration_seconds",
			Help:      "Time from the first request to the terminal state of a response.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"state"},
	)
	m.registry.MustRegister(m.responseDuration)

	m.markersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPipeline,
		Name:      "citation_markers_total",
		Help:      "Citation markers placed in final answers.",
	})
	m.registry.MustRegister(m.markersTotal)

	m.tablesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemPipeline,
			Name:      "tables_total",
			Help:      "Final answers by how their table was found (none, structured, grid).",
		},
		[]string{"phase"},
	)
	m.registry.MustRegister(m.tablesTotal)

	m.liveUpdatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPipeline,
		Name:      "live_updates_dropped_total",
		Help:      "Live updates discarded because their response was no longer current.",
	})
	m.registry.MustRegister(m.liveUpdatesDropped)

	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) ObserveResponse(state string, seconds float64) {
	m.responsesTotal.WithLabelValues(state).Inc()
	m.responseDuration.WithLabelValues(state).Observe(seconds)
}

func (m *metrics) ObserveFinalView(markers int, tablePhase string) {
	m.markersTotal.Add(float64(markers))
	if tablePhase == "" {
		tablePhase = "none"
	}
	m.tablesTotal.WithLabelValues(tablePhase).Inc()
}

func (m *metrics) IncrementLiveUpdatesDropped() {
	m.liveUpdatesDropped.Inc()
}
