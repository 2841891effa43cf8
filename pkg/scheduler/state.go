package scheduler

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/cadence/pkg/analysis"
	"github.com/cuemby/cadence/pkg/layout"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/pqueue"
	"github.com/cuemby/cadence/pkg/protocol"
	"github.com/cuemby/cadence/pkg/types"
	"github.com/cuemby/cadence/pkg/worker"
)

// Plan is an immutable planning result for one target. Reanalysis builds a
// new Plan and swaps the pointer; batches already placed keep the steps they
// were built from.
type Plan struct {
	Analysis  analysis.Analysis
	Primary   analysis.Composition
	Durations types.Durations
	Layout    layout.Layout

	Memory     float64
	PeakMemory float64

	// Span is the time from a batch's start to its last step's end
	Span time.Duration

	Skill     int
	PlannedAt time.Time
}

// Stride returns the minimum time between batch starts
func (p *Plan) Stride() time.Duration {
	return p.Analysis.Composition.Stride
}

// Batch tracks the steps of one placed batch
type Batch struct {
	ID    int64
	Steps int

	// Started counts steps whose start notification arrived
	Started int
	// Remaining counts steps not yet finished or dropped
	Remaining int

	// State is Delayed when the batch was shifted and Cancelled once any of
	// its steps was cancelled, padded or dropped
	State types.RegionState
}

func (b *Batch) degrade(state types.RegionState) {
	if b.State != types.RegionCancelled {
		b.State = state
	}
}

// PendingOperation is one step instance owned by the scheduler
type PendingOperation struct {
	ID     int64
	Target string
	Batch  *Batch
	Step   layout.Step
	Region *types.Region

	// Kind is what gets dispatched. Origin is the kind the step was planned
	// as and differs from Kind only for padding steps.
	Kind   types.OperationKind
	Origin types.OperationKind

	Threads        int
	ThreadsPrimary int

	Prep bool

	Host       string
	Memory     float64
	Dispatched bool
	Handle     worker.JobHandle
}

// Work is the per-target state
type Work struct {
	Target string

	plan  *Plan
	phase types.Phase

	budget         float64
	minHacks       int
	maxConcurrency int

	regions  *pqueue.Queue[*types.Region]
	launches *pqueue.Queue[*PendingOperation]
	batches  map[int64]*Batch

	nextBatchID int64
	groupStart  time.Time

	// stabilization weakens are seeded while stabilizeStart is before
	// stabilizeUntil, one batch span after the first placement
	stabilizeStart time.Time
	stabilizeUntil time.Time
	stabilizeCount int
	batchesPlaced  int

	prepOutstanding int

	metrics types.Metrics
	logger  zerolog.Logger
}

func newWork(target string) *Work {
	return &Work{
		Target:   target,
		phase:    types.PhaseUninitialized,
		budget:   1,
		regions:  pqueue.New(compareRegions),
		launches: pqueue.New(compareLaunches),
		batches:  make(map[int64]*Batch),
		metrics:  types.Metrics{Money: 1},
		logger:   log.WithTarget("scheduler", target),
	}
}

// Phase returns the target's lifecycle phase
func (w *Work) Phase() types.Phase {
	return w.phase
}

// Metrics returns a copy of the target's counters
func (w *Work) Metrics() types.Metrics {
	return w.metrics
}

// Plan returns the target's current plan, nil before the first analysis
func (w *Work) Plan() *Plan {
	return w.plan
}

func compareRegions(a, b *types.Region) int {
	if c := a.End.Compare(b.End); c != 0 {
		return c
	}
	if a.Batch != b.Batch {
		if a.Batch < b.Batch {
			return -1
		}
		return 1
	}
	return a.Order - b.Order
}

func compareLaunches(a, b *PendingOperation) int {
	return a.Region.Start.Compare(b.Region.Start)
}

// State is every piece of mutable scheduler state. It is owned by the
// scheduler's event loop and passed explicitly to each handler.
type State struct {
	targets map[string]*Work
	order   []string

	workers []types.Worker
	synced  map[string]bool

	ops      map[int64]*PendingOperation
	nextOpID int64

	// reserved is the memory of placed steps not dispatched yet
	reserved float64

	commands []protocol.Command

	duplicateFinishes int
	lastReport        time.Time
}

func newState() *State {
	return &State{
		targets: make(map[string]*Work),
		synced:  make(map[string]bool),
		ops:     make(map[int64]*PendingOperation),
	}
}

// work returns a target's state, creating it on first reference
func (st *State) work(target string) *Work {
	w, ok := st.targets[target]
	if !ok {
		w = newWork(target)
		st.targets[target] = w
		st.order = append(st.order, target)
	}
	return w
}

func (st *State) newOpID() int64 {
	id := st.nextOpID
	st.nextOpID++
	return id
}

// debit and credit keep the local worker view in step with dispatches
// between refreshes from the pool
func (st *State) debit(host string, memory float64) {
	for i := range st.workers {
		if st.workers[i].Host == host {
			st.workers[i].FreeMemory -= memory
			return
		}
	}
}

func (st *State) credit(host string, memory float64) {
	for i := range st.workers {
		if st.workers[i].Host == host {
			st.workers[i].FreeMemory += memory
			if st.workers[i].FreeMemory > st.workers[i].MaxMemory {
				st.workers[i].FreeMemory = st.workers[i].MaxMemory
			}
			return
		}
	}
}

func (st *State) freeMemory() (total, largest float64) {
	for _, w := range st.workers {
		if w.FreeMemory > 0 {
			total += w.FreeMemory
		}
		if w.FreeMemory > largest {
			largest = w.FreeMemory
		}
	}
	return total, largest
}

func (st *State) maxMemory() float64 {
	total := 0.0
	for _, w := range st.workers {
		total += w.MaxMemory
	}
	return total
}

func (st *State) primaryCores() int {
	for _, w := range st.workers {
		if w.Primary {
			return w.Cores
		}
	}
	return 1
}
