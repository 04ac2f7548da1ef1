// Package metrics defines the Prometheus instrumentation for the relay
// and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the server exports. Create one per
// process with NewMetrics and share it by pointer.
type Metrics struct {
	// TurnCounter counts completed relay turns.
	// Labels: status (completed|error|canceled)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn time in seconds.
	TurnDuration prometheus.Histogram

	// StreamEventCounter counts events pushed to clients.
	// Labels: type (connected|keep_alive|error|agent)
	StreamEventCounter *prometheus.CounterVec

	// ActiveStreams tracks currently open SSE streams.
	ActiveStreams prometheus.Gauge

	// ReconstructDuration measures history reconstruction time in seconds.
	ReconstructDuration prometheus.Histogram

	// HTTPRequestDuration measures HTTP request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors against reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry
// to stay independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_turns_total",
				Help: "Completed relay turns by terminal status",
			},
			[]string{"status"},
		),

		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "parley_turn_duration_seconds",
				Help:    "End-to-end relay turn duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		StreamEventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_stream_events_total",
				Help: "Stream events pushed to clients by type",
			},
			[]string{"type"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parley_active_streams",
				Help: "Currently open SSE streams",
			},
		),

		ReconstructDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "parley_history_reconstruct_duration_seconds",
				Help:    "History reconstruction duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_http_requests_total",
				Help: "HTTP requests by method, path and status code",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// Turn status label values.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusCanceled  = "canceled"
)
