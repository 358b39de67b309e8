// Package metrics provides Prometheus metrics collection for the severity prediction server.
// It defines all prediction, model, storage and account metrics exposed via the
// Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	// Prediction service metrics
	PredictionsTotal   prometheus.Counter   // Total number of successful predictions
	PredictionFailures prometheus.Counter   // Total number of failed prediction requests
	PredictionLatency  prometheus.Histogram // End-to-end prediction latency in seconds
	SeverityScores     prometheus.Histogram // Distribution of returned severity scores (0-100)
	MissingFeatures    prometheus.Counter   // Total number of absent features seen in requests

	// Model metrics
	MLInferences prometheus.Counter   // Total number of model inference calls that succeeded
	MLFailures   prometheus.Counter   // Total number of model inference failures
	MLTimeouts   prometheus.Counter   // Total number of model inference timeouts
	MLLatency    prometheus.Histogram // Model inference latency in seconds
	MLModelAge   prometheus.Gauge     // Age of the loaded model artifact in seconds

	// Storage and feed metrics
	HistoryEntries prometheus.Gauge // Number of entries in the history log
	FeedClients    prometheus.Gauge // Connected live history feed clients

	// Account metrics
	Registrations prometheus.Counter     // Total number of successful registrations
	Logins        *prometheus.CounterVec // Login attempts by result
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of successful severity predictions",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of failed prediction requests",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "End-to-end prediction latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		SeverityScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "severity_scores",
			Help:    "Distribution of returned severity scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		MissingFeatures: factory.NewCounter(prometheus.CounterOpts{
			Name: "missing_features_total",
			Help: "Total number of absent or unparseable features in prediction requests",
		}),
		MLInferences: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_inferences_total",
			Help: "Total number of successful model inference calls",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_failures_total",
			Help: "Total number of model inference failures",
		}),
		MLTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_timeouts_total",
			Help: "Total number of model inference timeouts",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_latency_seconds",
			Help:    "Model inference latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_age_seconds",
			Help: "Age of the loaded model artifact in seconds",
		}),
		HistoryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "history_entries",
			Help: "Number of entries in the prediction history log",
		}),
		FeedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "feed_clients",
			Help: "Connected live history feed clients",
		}),
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "registrations_total",
			Help: "Total number of successful user registrations",
		}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
	}
}
