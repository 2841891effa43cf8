/*
Package types defines the data shared by every cadence package: operation
kinds, workers, completion regions, per-target metrics and the snapshot the
scheduler reports.

# Core Types

OperationKind is one of Grow, Weaken or Hack. Durations and Costs hold one
value per kind and are indexed with their Of methods.

Worker is the memory view of one host as seen by the scheduler:

	type Worker struct {
		Host       string
		FreeMemory float64
		MaxMemory  float64
		Cores      int
		Primary    bool
	}

Region is the planned completion window of one step. Its lifecycle is
carried in RegionState:

	Normal ──► Delayed           (drift correction ran out of shifts)
	   │
	   ├────► Cancelled          (dropped, or precondition failed)
	   ├────► Padding            (hack or grow replaced by a weaken)
	   └────► Stabilization      (extra weaken outside any batch)

Stabilization regions are kept for drift correction but left out of
reports; see Region.Reportable.

Phase is the state of a target: Uninitialized, Prepping, SteadyState or
Degraded.

# Reporting

Snapshot is the periodic report of a scheduler run. It carries one
TargetSnapshot per target with its phase, budget, current AnalysisSummary,
retained regions and Metrics counters. Snapshots are JSON encoded for the
history store and the control stream.
*/
package types
