/*
Package coordinator runs one scheduler per target over a shared worker pool.

Assign plans every target, orders them by score and hands out workers largest
first. A target receives workers until it holds as many batches worth of
memory as fit in one batch's predicted time, capped by MaxInstances:

	instances = min(MaxInstances, predictedTime / stride)

	workers (by memory)   4096    2048    512
	                        │       │      │
	target A (best score) ◄─┘       │      │   takes 4096/mem batches
	target B ◄──────────────────────┘      │
	target C ◄─────────────────────────────┘

Targets that are not at minimum security and take MaxPrepTime or longer to
weaken are skipped. Each scheduler sees only its own workers through
worker.Subset; Run drives them with an errgroup and stops all of them when
one fails.

Submit routes budget commands to the scheduler owning each target.
*/
package coordinator
