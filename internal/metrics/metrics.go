// Package metrics exposes pipeline activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evanwires/sidekick/internal/model"
)

// Metrics implements the engine observer over a private registry.
type Metrics struct {
	registry *prometheus.Registry

	UtterancesTotal *prometheus.CounterVec
	TasksTotal      *prometheus.CounterVec
	TasksFinished   *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
}

// New creates and registers the metric set.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sidekick"
	}

	registry := prometheus.NewRegistry()

	utterancesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Transcript utterances appended",
		},
		[]string{"speaker"},
	)

	tasksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Candidate tasks admitted to the session",
		},
		[]string{"category"},
	)

	tasksFinished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks reaching a terminal state",
		},
		[]string{"state"},
	)

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Adapter stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage", "outcome"},
	)

	registry.MustRegister(
		utterancesTotal,
		tasksTotal,
		tasksFinished,
		stageDuration,
	)

	return &Metrics{
		registry:        registry,
		UtterancesTotal: utterancesTotal,
		TasksTotal:      tasksTotal,
		TasksFinished:   tasksFinished,
		StageDuration:   stageDuration,
	}
}

// UtteranceAppended counts one transcript line.
func (m *Metrics) UtteranceAppended(speaker model.Speaker) {
	m.UtterancesTotal.WithLabelValues(string(speaker)).Inc()
}

// TaskCreated counts one admitted task.
func (m *Metrics) TaskCreated(category string) {
	m.TasksTotal.WithLabelValues(category).Inc()
}

// StageObserved records one adapter call.
func (m *Metrics) StageObserved(stage model.Stage, outcome string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(string(stage), outcome).Observe(elapsed.Seconds())
}

// TaskFinished counts one terminal task.
func (m *Metrics) TaskFinished(state model.TaskState) {
	m.TasksFinished.WithLabelValues(string(state)).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
