package layout

import (
	"math"
	"sort"
	"time"

	"github.com/cuemby/cadence/pkg/analysis"
	"github.com/cuemby/cadence/pkg/types"
)

// Step is one operation of a batch, positioned relative to the batch start
type Step struct {
	Kind types.OperationKind

	// Offset is the start time relative to the batch start
	Offset time.Duration

	// EndShift is the stagger added so that ends are one buffer apart
	EndShift time.Duration

	Duration       time.Duration
	Threads        int
	ThreadsPrimary int

	DispatchOrder int
	ExecuteOrder  int
}

// End returns the end time of the step relative to the batch start
func (s Step) End() time.Duration {
	return s.Offset + s.Duration
}

// Layout is a batch's steps in dispatch order
type Layout struct {
	Steps []Step
}

// Descriptor is the input for one step
type Descriptor struct {
	Kind     types.OperationKind
	Duration time.Duration
	Threads  int
}

// Calculate lays out a composition. Every step ends exactly one buffer after
// the previous one in execute order. The longest step starts at offset zero
// unless an earlier-executing step would have to start before it, in which
// case that step starts at zero.
func Calculate(comp analysis.Composition, durations types.Durations, buffer time.Duration) Layout {
	specs := comp.Steps()
	descriptors := make([]Descriptor, len(specs))
	for i, spec := range specs {
		descriptors[i] = Descriptor{
			Kind:     spec.Kind,
			Duration: durations.Of(spec.Kind),
			Threads:  spec.Threads,
		}
	}
	return Order(descriptors, buffer)
}

// Order positions descriptors given in execute order
func Order(descriptors []Descriptor, buffer time.Duration) Layout {
	if len(descriptors) == 0 {
		return Layout{}
	}

	indices := make([]int, len(descriptors))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return descriptors[indices[a]].Duration > descriptors[indices[b]].Duration
	})

	longest := descriptors[indices[0]].Duration
	firstExecute := indices[0]
	steps := make([]Step, 0, len(descriptors))

	for dispatch, idx := range indices {
		d := descriptors[idx]
		shift := time.Duration(idx-firstExecute) * buffer

		steps = append(steps, Step{
			Kind:           d.Kind,
			Offset:         longest - d.Duration + shift,
			EndShift:       shift,
			Duration:       d.Duration,
			Threads:        d.Threads,
			ThreadsPrimary: d.Threads,
			DispatchOrder:  dispatch,
			ExecuteOrder:   idx,
		})
	}

	// steps executing before the longest one can start before it when their
	// durations are close
	var earliest time.Duration
	for _, s := range steps {
		if s.Offset < earliest {
			earliest = s.Offset
		}
	}
	for i := range steps {
		steps[i].Offset -= earliest
	}

	return Layout{Steps: steps}
}

// WithPrimary copies primary-worker thread counts from a layout computed for
// the same shape and durations
func (l Layout) WithPrimary(primary Layout) Layout {
	out := Layout{Steps: make([]Step, len(l.Steps))}
	copy(out.Steps, l.Steps)
	for i := range out.Steps {
		if i < len(primary.Steps) && primary.Steps[i].ExecuteOrder == out.Steps[i].ExecuteOrder {
			out.Steps[i].ThreadsPrimary = primary.Steps[i].Threads
		}
	}
	return out
}

// Memory returns the total memory of one batch
func (l Layout) Memory(costs types.Costs) float64 {
	total := 0.0
	for _, s := range l.Steps {
		total += costs.Of(s.Kind) * float64(s.Threads)
	}
	return total
}

// PeakMemory returns the memory of the largest single step
func (l Layout) PeakMemory(costs types.Costs) float64 {
	peak := 0.0
	for _, s := range l.Steps {
		peak = math.Max(peak, costs.Of(s.Kind)*float64(s.Threads))
	}
	return peak
}

// Span returns the time from the batch start to its last step's end
func (l Layout) Span() time.Duration {
	var span time.Duration
	for _, s := range l.Steps {
		if s.End() > span {
			span = s.End()
		}
	}
	return span
}

// ByExecuteOrder returns the steps sorted by execute order
func (l Layout) ByExecuteOrder() []Step {
	out := make([]Step, len(l.Steps))
	copy(out, l.Steps)
	sort.Slice(out, func(a, b int) bool { return out[a].ExecuteOrder < out[b].ExecuteOrder })
	return out
}

// Len returns the number of steps
func (l Layout) Len() int {
	return len(l.Steps)
}
