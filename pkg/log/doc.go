/*
Package log provides structured logging for cadence using zerolog.

The package holds one global zerolog.Logger configured by Init, plus helpers
that derive child loggers carrying the fields the scheduler logs most often.
Every long-running component takes a child logger once at construction and
logs through it, so a line can always be traced back to its component,
target and host.

# Architecture

	┌──────────────────── LOGGING ───────────────────────────┐
	│                                                          │
	│  log.Init(Config{Level, JSONOutput, Output})             │
	│        │                                                 │
	│        ▼                                                 │
	│  Global Logger (zerolog, timestamped)                    │
	│        │                                                 │
	│        ├── WithComponent("coordinator")                  │
	│        └── WithTarget("scheduler", "joesguns")           │
	│                                                          │
	│  Output: console (human) or JSON (one object per line)   │
	└──────────────────────────────────────────────────────────┘

# Usage

Initialise once from the CLI:

	log.Init(cfg.LogConfig())

Until then Logger discards everything, so packages can be used as libraries
without configuring logging.

Derive a component logger and add per-event fields:

	logger := log.WithTarget("scheduler", target)
	logger.Info().
		Int64("batch", batch.ID).
		Dur("shift", shift).
		Msg("Batch delayed to clear a weaken region")

# Fields

The scheduler and worker packages use these keys consistently:

	component   subsystem name (scheduler, worker, coordinator, storage)
	target      target the event concerns
	host        worker host
	op_id       scheduler operation id
	job_id      job handle id assigned by the pool
	kind        operation kind (hack, grow, weaken)
	batch       batch id

Durations are written in milliseconds with a fractional part, and the
console writer prints timestamps to the millisecond.

# Levels

Debug logs every dispatch and finish and is meant for short investigations.
Info covers phase changes, reanalysis and periodic summaries. Warn is used for
recoverable faults that are also counted in metrics (dropped jobs, duplicate
finishes, delayed batches). Error is reserved for failures that end a
scheduler.
*/
package log
