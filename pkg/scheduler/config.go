package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/cadence/pkg/analysis"
	"github.com/cuemby/cadence/pkg/types"
)

// Config holds the tunables of a scheduler
type Config struct {
	// StepBuffer separates the ends of consecutive steps of a batch
	StepBuffer time.Duration
	// Spacer is added to every stride on top of the step buffers
	Spacer time.Duration

	TickInterval   time.Duration
	ReportInterval time.Duration

	// Jitter is the minimum lead time of a newly placed batch
	Jitter time.Duration

	// SpawnAhead limits how long before its start a step is dispatched.
	// Zero dispatches steps as soon as they are placed.
	SpawnAhead time.Duration

	// StartTimeout bounds the wait for a job's start notification
	StartTimeout time.Duration

	// RetentionStrides is how many strides a finished region stays reported
	RetentionStrides int
	// ReportRegions caps the regions published per target
	ReportRegions int

	// MaxShifts bounds the drift-correction attempts for one batch
	MaxShifts int
	// ShiftEpsilon is added to every drift-correction shift
	ShiftEpsilon time.Duration

	// StabilizeEvery places one stabilization weaken every N batches
	StabilizeEvery int
	// StabilizeBatches sizes stabilization weakens as a multiple of one
	// batch's weaken step
	StabilizeBatches int

	// SecurityEpsilon is the tolerance above minimum security still
	// considered nominal
	SecurityEpsilon float64
	// MoneyThreshold is the smoothed money fraction below which hacks of
	// even batches are cancelled
	MoneyThreshold float64
	// MoneyFloor disables a target whose smoothed money fraction falls
	// below it
	MoneyFloor float64
	// PaddingThreshold is the security excess above which hack and grow
	// steps of even batches are replaced by weakens
	PaddingThreshold float64

	MinHacks int
	MaxHacks int
	Shape    analysis.Shape
	Score    analysis.ScoreFunc
	Costs    types.Costs

	// ChannelCapacity sizes the notification channels
	ChannelCapacity int

	// RunID is stamped on every snapshot. Empty generates a new one.
	RunID string
}

// DefaultConfig returns the standard scheduler settings
func DefaultConfig() Config {
	return Config{
		StepBuffer:       20 * time.Millisecond,
		Spacer:           10 * time.Millisecond,
		TickInterval:     16 * time.Millisecond,
		ReportInterval:   256 * time.Millisecond,
		Jitter:           64 * time.Millisecond,
		StartTimeout:     5 * time.Second,
		RetentionStrides: 4,
		ReportRegions:    64,
		MaxShifts:        100,
		ShiftEpsilon:     100 * time.Microsecond,
		StabilizeEvery:   5,
		StabilizeBatches: 1,
		MoneyThreshold:   0.9,
		MoneyFloor:       0.01,
		PaddingThreshold: 5,
		MinHacks:         1,
		MaxHacks:         analysis.DefaultMaxCount,
		Costs:            analysis.DefaultCosts,
		ChannelCapacity:  1 << 14,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StepBuffer <= 0 {
		c.StepBuffer = d.StepBuffer
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = d.ReportInterval
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = d.StartTimeout
	}
	if c.RetentionStrides <= 0 {
		c.RetentionStrides = d.RetentionStrides
	}
	if c.ReportRegions <= 0 {
		c.ReportRegions = d.ReportRegions
	}
	if c.MaxShifts <= 0 {
		c.MaxShifts = d.MaxShifts
	}
	if c.StabilizeBatches <= 0 {
		c.StabilizeBatches = d.StabilizeBatches
	}
	if c.MinHacks <= 0 {
		c.MinHacks = d.MinHacks
	}
	if c.MaxHacks < c.MinHacks {
		c.MaxHacks = d.MaxHacks
	}
	if c.Costs == (types.Costs{}) {
		c.Costs = d.Costs
	}
	if c.ChannelCapacity <= 0 {
		c.ChannelCapacity = d.ChannelCapacity
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	return c
}

// PlanOptions returns the planner settings for a host with the given cores
func (c Config) PlanOptions(cores int) analysis.Options {
	c = c.withDefaults()
	return analysis.Options{
		StepBuffer: c.StepBuffer,
		Spacer:     c.Spacer,
		MinCount:   c.MinHacks,
		MaxCount:   c.MaxHacks,
		Shape:      c.Shape,
		Cores:      cores,
		Costs:      c.Costs,
		Score:      c.Score,
	}
}
