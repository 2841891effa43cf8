package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/cuemby/cadence/pkg/types"
)

// DefaultMaxCount is the upper bound on hack threads searched per batch
const DefaultMaxCount = 65535

// Model is the precision timing and economic model for one target. All
// values are for a prepped target: minimum security and maximum money.
type Model interface {
	// Target returns the target name
	Target() string

	// Precise reports whether the exact formulas are available. Without them
	// only Durations, MaxMoney, HackPercent and HackChance are consulted.
	Precise() bool

	MaxMoney() float64

	// HackPercent is the fraction of money stolen by one hack thread
	HackPercent() float64

	// HackChance is the probability a hack succeeds
	HackChance() float64

	// HackSecurity is the security increase caused by threads hacks
	HackSecurity(threads int) float64

	// GrowThreads is the number of grow threads needed to take money from
	// `from` to `to` with security raised by extraSecurity above minimum
	GrowThreads(from, to, extraSecurity float64, cores int) int

	// GrowSecurity is the security increase caused by threads grows
	GrowSecurity(threads, cores int) float64

	// WeakenEffect is the security decrease caused by threads weakens
	WeakenEffect(threads, cores int) float64

	Durations() types.Durations
}

// ScoreFunc ranks a candidate by predicted yield, memory and completion time
type ScoreFunc func(yield, memory float64, duration time.Duration) float64

// DefaultScore favours yield per unit of time with a sub-linear memory penalty
func DefaultScore(yield, memory float64, duration time.Duration) float64 {
	if memory <= 0 || duration <= 0 {
		return 0
	}
	return yield / math.Pow(memory, 0.8) / duration.Seconds()
}

// Shape is the variant of a thread composition
type Shape int

const (
	ShapeInvalid Shape = iota
	ShapeHWGW          // hack, weaken, grow, weaken
	ShapeHGW           // hack, grow, weaken
)

// String returns the short name of the shape
func (s Shape) String() string {
	switch s {
	case ShapeHWGW:
		return "hwgw"
	case ShapeHGW:
		return "hgw"
	default:
		return "invalid"
	}
}

// Composition is the number of threads per step of one batch
type Composition struct {
	Shape  Shape
	Stride time.Duration

	Hacks       int
	HackWeakens int // weakens after hack, HWGW only
	Grows       int
	Weakens     int // weakens after grow for HWGW, the only weaken for HGW
}

// StepSpec is one step of a composition in execute order
type StepSpec struct {
	Kind    types.OperationKind
	Threads int
}

// Steps returns the composition's steps in execute order
func (c Composition) Steps() []StepSpec {
	switch c.Shape {
	case ShapeHWGW:
		return []StepSpec{
			{Kind: types.OperationHack, Threads: c.Hacks},
			{Kind: types.OperationWeaken, Threads: c.HackWeakens},
			{Kind: types.OperationGrow, Threads: c.Grows},
			{Kind: types.OperationWeaken, Threads: c.Weakens},
		}
	case ShapeHGW:
		return []StepSpec{
			{Kind: types.OperationHack, Threads: c.Hacks},
			{Kind: types.OperationGrow, Threads: c.Grows},
			{Kind: types.OperationWeaken, Threads: c.Weakens},
		}
	default:
		return nil
	}
}

// Memory returns the total and largest per-step memory of the composition
func (c Composition) Memory(costs types.Costs) (total, peak float64) {
	for _, step := range c.Steps() {
		m := costs.Of(step.Kind) * float64(step.Threads)
		total += m
		peak = math.Max(peak, m)
	}
	return total, peak
}

// String formats the composition as shape-threads, e.g. hwgw-8-1-12-2
func (c Composition) String() string {
	switch c.Shape {
	case ShapeHWGW:
		return fmt.Sprintf("hwgw-%d-%d-%d-%d", c.Hacks, c.HackWeakens, c.Grows, c.Weakens)
	case ShapeHGW:
		return fmt.Sprintf("hgw-%d-%d-%d", c.Hacks, c.Grows, c.Weakens)
	default:
		return ""
	}
}

// Analysis is a scored composition and its predictions
type Analysis struct {
	Target      string
	Composition Composition
	StepBuffer  time.Duration

	Score         float64
	PredictedTime time.Duration
	Memory        float64
	PeakMemory    float64
	Yield         float64
	YieldFraction float64
}

// Summary converts the analysis to its reported form
func (a *Analysis) Summary() types.AnalysisSummary {
	return types.AnalysisSummary{
		Composition:   a.Composition.String(),
		Score:         a.Score,
		PredictedTime: a.PredictedTime,
		Memory:        a.Memory,
		PeakMemory:    a.PeakMemory,
		Yield:         a.Yield,
		YieldFraction: a.YieldFraction,
		Stride:        a.Composition.Stride,
	}
}
