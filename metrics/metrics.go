// Package metrics exposes the engine's Prometheus collectors. Registered on
// the default registry; the API layer serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Evaluation outcome labels.
const (
	OutcomeTargeted = "targeted"
	OutcomeRollout  = "rollout"
	OutcomeDefault  = "default"
	OutcomeDegraded = "degraded"
)

// Evaluations counts flag evaluations by outcome.
var Evaluations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "feature_engine_evaluations_total",
		Help: "Total flag evaluations by outcome",
	},
	[]string{"outcome"},
)

// Evaluation cache traffic.
var (
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feature_engine_cache_hits_total",
		Help: "Evaluation cache hits",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feature_engine_cache_misses_total",
		Help: "Evaluation cache misses",
	})
)

// Experiment activity.
var (
	Assignments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feature_engine_assignments_total",
		Help: "New experiment participant assignments",
	})
	Conversions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feature_engine_conversions_total",
		Help: "Recorded experiment conversions",
	})
	AutoStops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feature_engine_experiment_auto_stops_total",
		Help: "Experiments completed by the significance auto-stop check",
	})
	SweepStops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feature_engine_experiment_sweep_stops_total",
		Help: "Experiments completed by the planned-end sweeper",
	})
)

func init() {
	prometheus.MustRegister(Evaluations, CacheHits, CacheMisses)
	prometheus.MustRegister(Assignments, Conversions, AutoStops, SweepStops)
}
