/*
Package scheduler places and dispatches batches of hack, grow and weaken jobs
against a set of targets so that every job finishes inside its planned
completion window.

A batch is a fixed sequence of steps planned by package layout. Each step has
a planned end time; the steps of one batch finish StepBuffer apart, in
execution order, and consecutive batches are a stride apart. The scheduler's
job is to keep that lattice of completion windows intact while jobs start late,
durations drift with the target's security, and memory on the workers comes
and goes.

# Architecture

One Scheduler owns a set of targets and a worker pool. All of its state is
held by a single goroutine, the one running Run; jobs talk to it only through
the three channels of protocol.Channels.

	┌──────────────────────────────────────────────────────────────┐
	│                        Scheduler.Run                         │
	│                                                              │
	│   ticker ──► tick ──► step(target) ──► prep | fill | dispatch │
	│   finish ──► handleFinished ──► materialize, dispatchDue     │
	│   control ─► Submit'ed commands, applied at the next report  │
	└───────┬───────────────────────────────────────▲──────────────┘
	        │ Dispatch(req)                         │
	        ▼                                       │ Started / Finished
	┌──────────────────┐   start channel   ┌────────┴─────────┐
	│   worker.Pool    │ ────────────────► │       job        │
	│ (LocalPool, ...) │ ◄──── barrier ─── │ delay, run, wait │
	└──────────────────┘                   └──────────────────┘

Every dispatch is followed by a synchronous wait for the job's start
notification. Exactly one notification carrying the dispatched ID must arrive
and the start channel must be empty afterwards; anything else is a protocol
violation and stops the scheduler with ErrProtocolViolation.

Finish notifications are handled one at a time. A job that has reported its
finish blocks on the barrier channel until the scheduler has fully accounted
for it, so the effect of the next job is never observed early.

# Target Lifecycle

	Uninitialized ──► Prepping ──► SteadyState ◄──► Degraded

Prepping weakens the target to minimum security and then grows it to maximum
money, each round covered by enough weakens to cancel the growth's security
gain. The round is sized to the memory currently free and halved until it
fits. When both are reached the target is analysed and enters SteadyState.

SteadyState keeps up to MaxConcurrency batches in flight. A target becomes
Degraded when a step of an even batch had to be substituted; it recovers once
security is back at its minimum and the smoothed money fraction is above
MoneyThreshold, and is re-analysed on the way back.

# Placement

fill materializes new batches while the concurrency bound allows:

	concurrency = min(max(1, floor(budget * maxMemory / planMemory)),
	                  floor(span / stride))

A batch is refused when its peak memory does not fit the largest worker, or
when the memory already reserved by placed but undispatched steps leaves too
little free. The cursor of the next batch advances in whole strides and never
moves backwards:

	now ──┬── lead ──┬───── span ─────┐
	      │          │ batch n   │    │
	      │          │     batch n+1  │
	      │          ▼                ▼
	   cursor >= now + max(Jitter, stride)

Drift correction then checks the new batch against the completion windows
already placed. A step that would end inside a weaken's window is shifted to
the end of that window, plus ShiftEpsilon, together with the rest of the
batch. After MaxShifts attempts the last shift is kept and the batch is marked
Delayed.

Stabilization weakens are extra weakens seeded every StabilizeEvery batches
during the first span of a plan and spaced by a prime multiple of the stride
afterwards, so their windows never line up with the batch lattice. Each one
places its successor when it finishes or is dropped.

# Dispatch

Steps are dispatched in planned start order. A step whose start has already
passed is dropped and its batch cancelled. While security is above its
minimum only weakens and steps of even batches run. Even batches trade a
precondition failure for a substitution instead of a delay:

  - hacks and grows become weaken padding when security is far off
  - hacks are cancelled when security or money is off
  - grows are cancelled when the skill changed since the plan was made

Cancelled steps still run, without effect, to keep the batch timing. A batch
is counted once, at the start of its first step and at the completion of its
last.

# Reporting

Every ReportInterval the scheduler refreshes the worker list, applies queued
commands, prunes finished regions older than RetentionStrides strides and
publishes a types.Snapshot through the Sink as an events.EventSnapshot. Each
target carries its newest ReportRegions reportable regions in end order. Phase
changes, re-analyses, budget changes, delayed batches and dropped jobs are
published as their own events.

# Usage

	sched := scheduler.New(scheduler.DefaultConfig(), pool, env, broker,
		scheduler.TargetSpec{Name: "joesguns", Budget: 1})

	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduler stopped")
		}
	}()

	sched.Submit(ctx, protocol.Command{
		Budgets: []protocol.TargetBudget{{Target: "joesguns", Budget: 0.5}},
	})

Run returns nil when its context is cancelled. Jobs still running at that
point are cancelled through their handles.
*/
package scheduler
