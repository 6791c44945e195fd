// Package monitor emits per-decision records to downstream aggregation.
// The scoring core computes no rolling metrics itself.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_decisions_total",
		Help: "Total scoring decisions by corridor and outcome",
	}, []string{"corridor", "decision"})

	scoreHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harrier_final_score",
		Help:    "Distribution of final scores by corridor",
		Buckets: prometheus.LinearBuckets(0, 0.1, 12),
	}, []string{"corridor"})

	scoringLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harrier_scoring_latency_seconds",
		Help:    "End-to-end scoring latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .2, .5, 1},
	}, []string{"corridor"})

	degradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_degraded_results_total",
		Help: "Results produced with at least one degraded input",
	}, []string{"corridor"})
)
