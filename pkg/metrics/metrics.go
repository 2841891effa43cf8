package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler event metrics
	JobsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_jobs_dispatched_total",
			Help: "Total number of jobs dispatched by target and kind",
		},
		[]string{"target", "kind"},
	)

	JobsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_jobs_dropped_total",
			Help: "Total number of jobs dropped because their start time had passed",
		},
		[]string{"target"},
	)

	BatchesMaterialized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cadence_batches_materialized_total",
			Help: "Total number of batches placed on the timeline",
		},
		[]string{"target"},
	)

	DuplicateFinishes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cadence_duplicate_finishes_total",
			Help: "Total number of finish notifications for unknown or already finished jobs",
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cadence_dispatch_latency_seconds",
			Help:    "Time from dispatch until the job reported its start",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cadence_tick_duration_seconds",
			Help:    "Time taken by one scheduler tick",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	ReanalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cadence_reanalysis_duration_seconds",
			Help:    "Time taken to plan a target",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// Snapshot metrics
	TargetBatches = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_target_batches",
			Help: "Batch counters by target and state",
		},
		[]string{"target", "state"},
	)

	TargetJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_target_jobs",
			Help: "Job counters by target and state",
		},
		[]string{"target", "state"},
	)

	TargetMoney = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_target_money_ratio",
			Help: "Smoothed fraction of maximum money available on the target",
		},
		[]string{"target"},
	)

	TargetSecurity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_target_security_excess",
			Help: "Smoothed security above the target's minimum",
		},
		[]string{"target"},
	)

	TargetPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_target_phase",
			Help: "Current phase of the target (1 = active phase)",
		},
		[]string{"target", "phase"},
	)

	PlannerScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cadence_planner_score",
			Help: "Score of the target's current plan",
		},
		[]string{"target"},
	)

	EventsDropped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cadence_events_dropped",
			Help: "Event deliveries lost to full broker or subscriber buffers",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsDispatched)
	prometheus.MustRegister(JobsDropped)
	prometheus.MustRegister(BatchesMaterialized)
	prometheus.MustRegister(DuplicateFinishes)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(ReanalysisDuration)
	prometheus.MustRegister(TargetBatches)
	prometheus.MustRegister(TargetJobs)
	prometheus.MustRegister(TargetMoney)
	prometheus.MustRegister(TargetSecurity)
	prometheus.MustRegister(TargetPhase)
	prometheus.MustRegister(PlannerScore)
	prometheus.MustRegister(EventsDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
