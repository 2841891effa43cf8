/*
Package events provides an in-memory event broker for cadence.

Schedulers publish a snapshot of every target they run on a fixed report
interval, plus a small number of lifecycle events (phase changes,
reanalysis, delayed batches, dropped jobs). The broker fans these out to any
number of subscribers: the Prometheus collector, the bbolt history recorder,
and the CLI's console reporter.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Scheduler ──Publish──▶ Event Channel (buffer: 256)        │
	│  Coordinator                  │                            │
	│                               ▼                            │
	│                        Broadcast Loop                      │
	│                               │                            │
	│           ┌───────────────────┼───────────────────┐        │
	│           ▼                   ▼                   ▼        │
	│    metrics.Collector   storage.Recorder    CLI reporter    │
	│    (buffer: 64)        (buffer: 64)        (buffer: 64)    │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Delivery

Publish never blocks. A scheduler's event loop calls it from the same
goroutine that dispatches jobs, so a slow consumer must never delay a
dispatch. When the broker's own buffer is full the event is dropped and
Publish returns false; when a subscriber's buffer is full that subscriber
misses the event while the others still receive it. Snapshots are
self-contained, so a missed snapshot is corrected by the next one. Every
lost delivery is counted and reported by Dropped.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(events.EventSnapshot)
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		render(ev.Snapshot)
	}

Subscribe with no types receives everything.

# Event Types

	scheduler.snapshot     periodic report, Snapshot set
	target.phase_changed   Metadata["from"], Metadata["to"]
	target.reanalyzed      Analysis set
	target.budget_changed  Metadata["budget"]
	batch.delayed          Metadata["batch"], Metadata["shift"]
	job.dropped            Metadata["op_id"], Metadata["kind"]
	scheduler.exited       Message holds the exit error, if any
*/
package events
