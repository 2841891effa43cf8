package analysis

import (
	"math"
	"time"

	"github.com/cuemby/cadence/pkg/types"
)

// maxWeakenThreads bounds the corrective-step search for models whose
// weaken effect never grows
const maxWeakenThreads = 1 << 20

// DefaultCosts are the per-thread memory costs of the three job payloads
var DefaultCosts = types.Costs{Grow: 1.75, Weaken: 1.75, Hack: 1.70}

// Options controls a planning run
type Options struct {
	StepBuffer time.Duration
	Spacer     time.Duration

	MinCount int
	MaxCount int

	// Shape restricts the search to one composition variant when set
	Shape Shape

	Cores int
	Costs types.Costs
	Score ScoreFunc
}

func (o Options) withDefaults() Options {
	if o.MinCount < 1 {
		o.MinCount = 1
	}
	if o.MaxCount < o.MinCount {
		o.MaxCount = DefaultMaxCount
		if o.MaxCount < o.MinCount {
			o.MaxCount = o.MinCount
		}
	}
	if o.Cores < 1 {
		o.Cores = 1
	}
	if o.Costs == (types.Costs{}) {
		o.Costs = DefaultCosts
	}
	if o.Score == nil {
		o.Score = DefaultScore
	}
	return o
}

// Stride returns the minimum time between batch starts for a shape
func Stride(shape Shape, buffer, spacer time.Duration) time.Duration {
	switch shape {
	case ShapeHWGW:
		return buffer*4 + spacer
	case ShapeHGW:
		return buffer*3 + spacer
	default:
		return 0
	}
}

// Plan searches hack counts from MinCount upwards and returns the best scoring
// composition. The search stops at the first count that does not improve on
// the best score so far. Without precise formulas it falls back to Estimate.
func Plan(model Model, opts Options) Analysis {
	opts = opts.withDefaults()

	if !model.Precise() {
		return Estimate(model, opts)
	}

	best := bestAt(model, opts.MinCount, opts)

	for count := opts.MinCount + 1; count <= opts.MaxCount; count++ {
		candidate := bestAt(model, count, opts)
		if candidate.Score <= best.Score {
			break
		}
		best = candidate
	}

	return best
}

func bestAt(model Model, hacks int, opts Options) Analysis {
	var best Analysis
	found := false

	for _, shape := range []Shape{ShapeHWGW, ShapeHGW} {
		if opts.Shape != ShapeInvalid && opts.Shape != shape {
			continue
		}

		candidate := analyze(model, Compose(model, shape, hacks, opts), opts)
		if !found || candidate.Score > best.Score {
			best = candidate
			found = true
		}
	}

	return best
}

// Compose sizes one composition of the given shape for a hack count
func Compose(model Model, shape Shape, hacks int, opts Options) Composition {
	opts = opts.withDefaults()

	hackAmount := math.Min(1, model.HackPercent()*float64(hacks))
	maxMoney := model.MaxMoney()
	remaining := maxMoney * (1 - hackAmount)
	hackSecurity := model.HackSecurity(hacks)

	comp := Composition{
		Shape:  shape,
		Stride: Stride(shape, opts.StepBuffer, opts.Spacer),
		Hacks:  hacks,
	}

	switch shape {
	case ShapeHWGW:
		comp.HackWeakens = WeakenThreads(model, hackSecurity, opts.Cores)
		comp.Grows = model.GrowThreads(remaining, maxMoney, 0, opts.Cores)
		comp.Weakens = WeakenThreads(model, model.GrowSecurity(comp.Grows, opts.Cores), opts.Cores)
	case ShapeHGW:
		comp.Grows = model.GrowThreads(remaining, maxMoney, hackSecurity, opts.Cores)
		growSecurity := model.GrowSecurity(comp.Grows, opts.Cores)
		comp.Weakens = WeakenThreads(model, hackSecurity+growSecurity, opts.Cores)
	}

	return comp
}

// ForCores re-sizes a planned composition for a worker with more cores,
// keeping its shape and hack count
func ForCores(model Model, comp Composition, cores int, opts Options) Composition {
	if !model.Precise() || comp.Shape == ShapeInvalid {
		return comp
	}
	opts.Cores = cores
	return Compose(model, comp.Shape, comp.Hacks, opts)
}

// Estimate returns a fixed low-cost HGW composition for targets without a
// precise model
func Estimate(model Model, opts Options) Analysis {
	opts = opts.withDefaults()

	comp := Composition{
		Shape:   ShapeHGW,
		Stride:  Stride(ShapeHGW, opts.StepBuffer, opts.Spacer),
		Hacks:   8,
		Grows:   1,
		Weakens: 1,
	}

	return analyze(model, comp, opts)
}

func analyze(model Model, comp Composition, opts Options) Analysis {
	memory, peak := comp.Memory(opts.Costs)
	predictedTime := model.Durations().Longest()
	hackAmount := math.Min(1, model.HackPercent()*float64(comp.Hacks))
	yield := model.MaxMoney() * hackAmount * model.HackChance()

	return Analysis{
		Target:        model.Target(),
		Composition:   comp,
		StepBuffer:    opts.StepBuffer,
		Score:         opts.Score(yield, memory, predictedTime),
		PredictedTime: predictedTime,
		Memory:        memory,
		PeakMemory:    peak,
		Yield:         yield,
		YieldFraction: hackAmount,
	}
}

// WeakenThreads returns the smallest weaken count whose effect strictly
// exceeds delta plus a margin of one thread's effect. The search is linear
// because the effect function need not be smooth.
func WeakenThreads(model Model, delta float64, cores int) int {
	margin := model.WeakenEffect(1, cores)

	threads := 1
	for model.WeakenEffect(threads, cores) <= delta+margin && threads < maxWeakenThreads {
		threads++
	}
	return threads
}
