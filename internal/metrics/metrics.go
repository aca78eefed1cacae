// Package metrics holds the Prometheus collectors shared across the API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ona"

var (
	// LicenseValidations counts license resolutions by outcome
	// (demo, valid, invalid, expired, error).
	LicenseValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "license",
		Name:      "validations_total",
		Help:      "License validations by outcome.",
	}, []string{"outcome"})

	// FeatureDenials counts requests refused for a missing feature or limit.
	FeatureDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "license",
		Name:      "denials_total",
		Help:      "Requests refused by feature or limit checks.",
	}, []string{"tier", "reason"})

	// AlgorithmDuration tracks graph algorithm latency.
	AlgorithmDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "algorithm_duration_seconds",
		Help:      "Graph algorithm duration in seconds.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
	}, []string{"algorithm", "outcome"})

	// GraphStoreQueries counts graph store calls by operation and outcome.
	GraphStoreQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "store_queries_total",
		Help:      "Graph store calls by operation and outcome.",
	}, []string{"op", "outcome"})

	// IngestedEdges counts edges accepted by upload or connect, by format.
	IngestedEdges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "edges_total",
		Help:      "Edges ingested by source format.",
	}, []string{"format"})

	// QuotaRejections counts requests refused by the monthly call quota.
	QuotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "rejections_total",
		Help:      "Requests refused because the monthly API quota is spent.",
	})

	// StreamClients is the number of connected graph stream websockets.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "clients",
		Help:      "Connected graph stream clients.",
	})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordLicenseValidation records one license resolution.
func RecordLicenseValidation(result string) {
	LicenseValidations.WithLabelValues(result).Inc()
}

// RecordDenial records a refused feature or limit check.
func RecordDenial(tier, reason string) {
	FeatureDenials.WithLabelValues(tier, reason).Inc()
}

// ObserveAlgorithm records how long an algorithm ran and whether it failed.
func ObserveAlgorithm(name string, started time.Time, err error) {
	AlgorithmDuration.WithLabelValues(name, outcome(err)).Observe(time.Since(started).Seconds())
}

// RecordStoreQuery records a graph store call.
func RecordStoreQuery(op string, err error) {
	GraphStoreQueries.WithLabelValues(op, outcome(err)).Inc()
}

// RecordIngest records edges accepted from a source.
func RecordIngest(format string, edges int) {
	IngestedEdges.WithLabelValues(format).Add(float64(edges))
}
