package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slipway-ci/slipway/internal/models"
)

// Metrics aggregates the Prometheus metrics the webhook listener
// exposes. Metrics register on their own registry so tests and
// repeated constructions never collide.
type Metrics struct {
	registry *prometheus.Registry

	eventsReceived     *prometheus.CounterVec
	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	publishedArtifacts *prometheus.CounterVec
}

// NewMetrics creates and registers the listener metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slipway_events_received_total",
				Help: "Webhook events received, by kind and action",
			},
			[]string{"kind", "action"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slipway_runs_total",
				Help: "Pipeline runs executed, by pipeline and final status",
			},
			[]string{"pipeline", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slipway_run_duration_seconds",
				Help:    "Wall-clock duration of pipeline runs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"pipeline"},
		),
		publishedArtifacts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slipway_published_artifacts_total",
				Help: "Artifacts uploaded to the package index, by pipeline",
			},
			[]string{"pipeline"},
		),
	}
	m.registry.MustRegister(m.eventsReceived, m.runsTotal, m.runDuration, m.publishedArtifacts)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvent records one received webhook event.
func (m *Metrics) ObserveEvent(event *models.Event) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(event.Kind, event.Action).Inc()
}

// ObserveRun records one completed pipeline run.
func (m *Metrics) ObserveRun(result *models.RunResult) {
	if m == nil || result == nil {
		return
	}
	m.runsTotal.WithLabelValues(result.Pipeline, result.Status).Inc()
	m.runDuration.WithLabelValues(result.Pipeline).Observe(result.Duration.Seconds())
	if result.Published {
		m.publishedArtifacts.WithLabelValues(result.Pipeline).Add(float64(result.ArtifactCount))
	}
}

// drainTimeout bounds graceful shutdown of the HTTP listener.
const drainTimeout = 10 * time.Second
