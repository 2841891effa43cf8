package types

import (
	"time"
)

// OperationKind identifies one of the three operations a batch is built from
type OperationKind int

const (
	OperationGrow OperationKind = iota
	OperationWeaken
	OperationHack
)

// String returns the lower-case name of the kind
func (k OperationKind) String() string {
	switch k {
	case OperationGrow:
		return "grow"
	case OperationWeaken:
		return "weaken"
	case OperationHack:
		return "hack"
	default:
		return "unknown"
	}
}

// OperationKinds lists every kind in declaration order
var OperationKinds = []OperationKind{OperationGrow, OperationWeaken, OperationHack}

// Durations holds the intrinsic run time of each operation kind against one target
type Durations struct {
	Grow   time.Duration
	Weaken time.Duration
	Hack   time.Duration
}

// Of returns the duration for the given kind
func (d Durations) Of(kind OperationKind) time.Duration {
	switch kind {
	case OperationGrow:
		return d.Grow
	case OperationWeaken:
		return d.Weaken
	case OperationHack:
		return d.Hack
	default:
		return 0
	}
}

// Longest returns the largest of the three durations
func (d Durations) Longest() time.Duration {
	longest := d.Grow
	if d.Weaken > longest {
		longest = d.Weaken
	}
	if d.Hack > longest {
		longest = d.Hack
	}
	return longest
}

// Costs is the memory consumed by one thread of each operation kind
type Costs struct {
	Grow   float64 `yaml:"grow" json:"grow"`
	Weaken float64 `yaml:"weaken" json:"weaken"`
	Hack   float64 `yaml:"hack" json:"hack"`
}

// Of returns the per-thread cost for the given kind
func (c Costs) Of(kind OperationKind) float64 {
	switch kind {
	case OperationGrow:
		return c.Grow
	case OperationWeaken:
		return c.Weaken
	case OperationHack:
		return c.Hack
	default:
		return 0
	}
}

// Worker is one host in the worker pool
type Worker struct {
	Host       string
	FreeMemory float64
	MaxMemory  float64
	Cores      int
	Primary    bool // highest-priority host, used last except for growth steps
}

// RegionState tracks how a scheduled step is expected to behave
type RegionState int

const (
	RegionNormal RegionState = iota
	RegionDelayed
	RegionCancelled
	RegionPadding
	RegionStabilization
)

// String returns the lower-case name of the state
func (s RegionState) String() string {
	switch s {
	case RegionNormal:
		return "normal"
	case RegionDelayed:
		return "delayed"
	case RegionCancelled:
		return "cancelled"
	case RegionPadding:
		return "padding"
	case RegionStabilization:
		return "stabilization"
	default:
		return "unknown"
	}
}

// Region is the scheduler's record of one step instance on the timeline
type Region struct {
	Kind         OperationKind `json:"kind"`
	State        RegionState   `json:"state"`
	Batch        int64         `json:"batch"`
	Order        int           `json:"order"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	ActualStart  time.Time     `json:"actual_start,omitempty"`
	ActualFinish time.Time     `json:"actual_finish,omitempty"`
}

// Reportable reports whether the region belongs on the published timeline
func (r *Region) Reportable() bool {
	return r.State != RegionStabilization
}

// Phase is the lifecycle state of one target
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhasePrepping      Phase = "prepping"
	PhaseSteadyState   Phase = "steady"
	PhaseDegraded      Phase = "degraded"
)

// Metrics are the running counters kept per target
type Metrics struct {
	Money            float64 `json:"money"`    // smoothed money fraction
	Security         float64 `json:"security"` // smoothed security above minimum
	SecurityFailures int     `json:"security_failures"`

	ActiveJobs        int `json:"active_jobs"`
	TotalJobs         int `json:"total_jobs"`
	OOMJobs           int `json:"oom_jobs"`
	DroppedJobs       int `json:"dropped_jobs"`
	PaddedJobs        int `json:"padded_jobs"`
	StabilizationJobs int `json:"stabilization_jobs"`

	ActiveBatches    int `json:"active_batches"`
	TotalBatches     int `json:"total_batches"`
	OOMBatches       int `json:"oom_batches"`
	RealisedBatches  int `json:"realised_batches"`
	DelayedBatches   int `json:"delayed_batches"`
	CancelledBatches int `json:"cancelled_batches"`
}

// AnalysisSummary is the reported view of a target's current plan
type AnalysisSummary struct {
	Composition    string        `json:"composition"`
	Score          float64       `json:"score"`
	PredictedTime  time.Duration `json:"predicted_time"`
	Memory         float64       `json:"memory"`
	PeakMemory     float64       `json:"peak_memory"`
	Yield          float64       `json:"yield"`
	YieldFraction  float64       `json:"yield_fraction"`
	Stride         time.Duration `json:"stride"`
	MaxConcurrency int           `json:"max_concurrency"`
}

// TargetSnapshot is the periodic report for one target
type TargetSnapshot struct {
	Target   string          `json:"target"`
	Phase    Phase           `json:"phase"`
	Prepped  bool            `json:"prepped"`
	Budget   float64         `json:"budget"`
	MinHacks int             `json:"min_hacks"`
	Analysis AnalysisSummary `json:"analysis"`
	Regions  []Region        `json:"regions"`
	Metrics  Metrics         `json:"metrics"`
}

// Snapshot is what a scheduler publishes on its metrics channel
type Snapshot struct {
	RunID             string           `json:"run_id"`
	Time              time.Time        `json:"time"`
	DuplicateFinishes int              `json:"duplicate_finishes"`
	Targets           []TargetSnapshot `json:"targets"`
}
