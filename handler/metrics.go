package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// newMetrics uses a private registry so several handlers can coexist in
// one process.
func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docstore",
			Name:      "operations_total",
			Help:      "Collection operations by collection, operation and outcome.",
		}, []string{"collection", "op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docstore",
			Name:      "operation_duration_seconds",
			Help:      "Latency of collection operations, including persistence.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		m.operations,
		m.duration,
		collectors.NewGoCollector(),
	)
	return m
}
