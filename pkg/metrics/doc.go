/*
Package metrics provides Prometheus metrics and health endpoints for cadence.

Every metric is a package-level variable registered with the default Prometheus
registry at init. The scheduler updates the event counters and latency
histograms directly while it runs; the per-target gauges are fed from the
snapshots it publishes, through a Collector subscribed to the events broker.

# Architecture

	┌───────────────┐  Inc / Observe   ┌──────────────────────────┐
	│   scheduler   │ ───────────────► │  counters, histograms    │
	└──────┬────────┘                  │  (DefaultRegistry)       │
	       │ EventSnapshot             │                          │
	       ▼                           │  target gauges           │
	┌───────────────┐   Collector      │                          │
	│ events.Broker │ ───────────────► │                          │
	└───────────────┘   Observe(snap)  └────────────┬─────────────┘
	                                                │
	                                     GET /metrics (promhttp)

# Metrics Catalog

Event metrics, updated by the scheduler:

  - cadence_jobs_dispatched_total{target, kind}: jobs handed to a worker
  - cadence_jobs_dropped_total{target}: steps dropped because their start passed
  - cadence_batches_materialized_total{target}: batches placed on the timeline
  - cadence_duplicate_finishes_total: finish notifications for unknown jobs
  - cadence_dispatch_latency_seconds: dispatch until start notification
  - cadence_tick_duration_seconds: one scheduler tick
  - cadence_reanalysis_duration_seconds{target}: one planning pass

Snapshot gauges, set by the Collector:

  - cadence_target_batches{target, state}: active, total, oom, realised,
    delayed and cancelled batch counters
  - cadence_target_jobs{target, state}: active, total, oom, dropped, padded,
    stabilization and security_failures job counters
  - cadence_target_money_ratio{target}: smoothed money fraction
  - cadence_target_security_excess{target}: smoothed security above minimum
  - cadence_target_phase{target, phase}: 1 for the current phase
  - cadence_planner_score{target}: score of the current plan
  - cadence_events_dropped: event deliveries lost to full buffers

# Health

The health checker tracks named components. /health fails when any
registered component is unhealthy; /ready fails until the scheduler and the
worker pool are both registered and healthy; /live always answers. The
collector also records each target's phase from snapshots, and /health
reports "degraded" (still 200) while any target is in the degraded phase.

	metrics.SetVersion(version)
	metrics.UpdateComponent(metrics.ComponentPool, true, "")
	metrics.UpdateComponent(metrics.ComponentScheduler, false, err.Error())

# Usage

	collector := metrics.NewCollector(broker)
	collector.Start()
	defer collector.Stop()

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())

Timing an operation:

	timer := metrics.NewTimer()
	plan := planner.Plan(model, opts)
	timer.ObserveDurationVec(metrics.ReanalysisDuration, target)
*/
package metrics
