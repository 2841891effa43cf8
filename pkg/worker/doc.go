/*
Package worker runs the jobs a scheduler dispatches.

A Pool is the scheduler's view of its hosts: their memory, a way to make the
job payloads available on a host, and Dispatch. Each dispatched job reports on
the scheduler's protocol.Channels and follows the same life cycle:

	Dispatch ──► Started ──► delay ──► run ──► apply ──► Finished ──► barrier
	             (start ch)  until                       (finish ch)   wait
	                         PlannedEnd - Duration

The start notification is written before the delay so the scheduler can
confirm the dispatch at once. The run time of the operation is taken when the
delay ends, since it depends on the target's state at that moment. After its
finish notification a job holds its memory until the scheduler releases it
through the barrier.

# LocalPool

LocalPool runs jobs as goroutines against an Effector, which supplies
operation durations and applies their effects. It enforces per-host memory:
a job that does not fit is refused with ErrInsufficientMemory. Jobs with Skip
set keep their timing but do not apply anything.

	pool := worker.NewLocalPool([]worker.Host{
		{Name: "home", MaxMemory: 2048, Cores: 4, Primary: true},
		{Name: "pserv-0", MaxMemory: 1024, Cores: 1},
	}, analysis.DefaultCosts, world)
	defer pool.Close()

Subset restricts a pool to some of its hosts, so several schedulers can share
one pool without competing for the same memory.

HostMemory reads the memory available on the machine running cadence, used
to size the primary host when it is left unconfigured.
*/
package worker
