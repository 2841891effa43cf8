/*
Package analysis sizes batches for a target and ranks them.

A Model describes a prepped target: what one hack thread steals, how many
grow threads restore the money, how much security each operation adds and
how long each operation takes. Plan searches hack thread counts upwards from
MinCount, composes one batch per count in the requested Shape and keeps the
best scoring one:

	hacks ──► Compose ──► steps (H, W, G, W) ──► yield, memory, time ──► Score

HGW batches cover hack and grow with a single weaken; HWGW batches weaken
after each. The stride between batch starts follows from the shape's step
count and the step buffer.

Plan falls back to Estimate, a fixed low-cost composition, when the model is
not Precise.

ForCores re-sizes a composition for a host with more cores, whose grows and
weakens are stronger per thread.
*/
package analysis
