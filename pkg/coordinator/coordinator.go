package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/cadence/pkg/analysis"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/protocol"
	"github.com/cuemby/cadence/pkg/scheduler"
	"github.com/cuemby/cadence/pkg/types"
	"github.com/cuemby/cadence/pkg/worker"
)

var (
	// ErrUnknownTarget is returned for commands naming a target no
	// scheduler runs
	ErrUnknownTarget = errors.New("unknown target")

	// ErrNoAssignment is returned by Run when no target received a worker
	ErrNoAssignment = errors.New("no target could be assigned a worker")
)

// Environment is the scheduler environment plus the live operation timings
// used to judge how long a target takes to prep
type Environment interface {
	scheduler.Environment

	// Duration returns how long an operation against target takes right now
	Duration(target string, kind types.OperationKind) time.Duration
}

// Options configures a coordinator
type Options struct {
	Scheduler scheduler.Config

	// MaxPrepTime skips targets that are not at minimum security and whose
	// weaken takes at least this long
	MaxPrepTime time.Duration

	// MaxInstances caps the batches worth of workers given to one target
	MaxInstances int
}

// Assignment is the worker share of one target
type Assignment struct {
	Spec     scheduler.TargetSpec
	Analysis analysis.Analysis
	Workers  []string
}

// Coordinator plans every target, shares the workers out by score and runs
// one scheduler per target
type Coordinator struct {
	opts   Options
	pool   worker.Pool
	env    Environment
	sink   scheduler.Sink
	logger zerolog.Logger

	mu         sync.RWMutex
	schedulers map[string]*scheduler.Scheduler
	ready      chan struct{}
	readyOnce  sync.Once
}

// New creates a coordinator
func New(opts Options, pool worker.Pool, env Environment, sink scheduler.Sink) *Coordinator {
	if opts.MaxPrepTime <= 0 {
		opts.MaxPrepTime = 5 * time.Minute
	}
	if opts.MaxInstances <= 0 {
		opts.MaxInstances = 256
	}
	return &Coordinator{
		opts:   opts,
		pool:   pool,
		env:    env,
		sink:   sink,
		logger: log.WithComponent("coordinator"),

		schedulers: make(map[string]*scheduler.Scheduler),
		ready:      make(chan struct{}),
	}
}

// Assign plans each target and gives the best scoring ones the workers they
// can use, largest worker first. Every worker goes to at most one target.
func (c *Coordinator) Assign(ctx context.Context, targets []scheduler.TargetSpec) ([]Assignment, error) {
	workers, err := c.pool.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	sort.SliceStable(workers, func(i, j int) bool { return workers[i].MaxMemory > workers[j].MaxMemory })

	candidates := make([]Assignment, 0, len(targets))
	for _, spec := range targets {
		model := c.env.Model(spec.Name)
		if model == nil || model.MaxMoney() <= 0 {
			continue
		}
		timer := time.Now()
		a := analysis.Plan(model, c.planOptions(spec))
		c.logger.Debug().
			Str("target", spec.Name).
			Str("composition", a.Composition.String()).
			Float64("score", a.Score).
			Dur("took", time.Since(timer)).
			Msg("Target planned")
		candidates = append(candidates, Assignment{Spec: spec, Analysis: a})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Analysis.Score > candidates[j].Analysis.Score })

	assignments := make([]Assignment, 0, len(candidates))
	for _, a := range candidates {
		if a.Analysis.Memory <= 0 || a.Analysis.Composition.Stride <= 0 {
			continue
		}

		current, minimum := c.env.Security(a.Spec.Name)
		if current != minimum {
			if weaken := c.env.Duration(a.Spec.Name, types.OperationWeaken); weaken >= c.opts.MaxPrepTime {
				c.logger.Info().
					Str("target", a.Spec.Name).
					Dur("weaken_time", weaken).
					Msg("Skipping target with long prep")
				continue
			}
		}

		// a batch shorter than its stride still needs one instance
		instances := math.Max(1, math.Min(float64(c.opts.MaxInstances),
			float64(a.Analysis.PredictedTime)/float64(a.Analysis.Composition.Stride)))

		remaining := make([]types.Worker, 0, len(workers))
		for _, w := range workers {
			if instances <= 0 {
				remaining = append(remaining, w)
				continue
			}
			use := math.Floor(math.Min(w.MaxMemory/a.Analysis.Memory, instances))
			if use < 1 {
				remaining = append(remaining, w)
				continue
			}
			a.Workers = append(a.Workers, w.Host)
			instances -= use
		}
		workers = remaining

		assignments = append(assignments, a)
	}
	return assignments, nil
}

// Run assigns workers and runs one scheduler per target that received any.
// It returns when ctx is cancelled or any scheduler fails.
func (c *Coordinator) Run(ctx context.Context, targets []scheduler.TargetSpec) error {
	defer c.readyOnce.Do(func() { close(c.ready) })

	assignments, err := c.Assign(ctx, targets)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	started := 0
	for _, a := range assignments {
		if len(a.Workers) == 0 {
			c.logger.Info().Str("target", a.Spec.Name).Msg("No workers left for target")
			continue
		}

		c.logger.Info().
			Str("target", a.Spec.Name).
			Strs("workers", a.Workers).
			Str("composition", a.Analysis.Composition.String()).
			Msg("Starting scheduler")

		s := scheduler.New(c.opts.Scheduler, worker.Subset(c.pool, a.Workers), c.env, c.sink, a.Spec)
		c.mu.Lock()
		c.schedulers[a.Spec.Name] = s
		c.mu.Unlock()

		g.Go(func() error {
			if err := s.Run(gctx); err != nil {
				return fmt.Errorf("scheduler for %s: %w", a.Spec.Name, err)
			}
			return nil
		})
		started++
	}

	c.readyOnce.Do(func() { close(c.ready) })

	if started == 0 {
		return ErrNoAssignment
	}
	return g.Wait()
}

// Submit routes each budget of a command to the scheduler running its
// target. It waits until Run has started the schedulers.
func (c *Coordinator) Submit(ctx context.Context, cmd protocol.Command) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.RLock()
	routed := make(map[*scheduler.Scheduler][]protocol.TargetBudget)
	var errs []error
	for _, b := range cmd.Budgets {
		s, ok := c.schedulers[b.Target]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownTarget, b.Target))
			continue
		}
		routed[s] = append(routed[s], b)
	}
	c.mu.RUnlock()

	for s, budgets := range routed {
		if err := s.Submit(ctx, protocol.Command{Budgets: budgets}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Targets returns the targets that have a running scheduler
func (c *Coordinator) Targets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.schedulers))
	for name := range c.schedulers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Coordinator) planOptions(spec scheduler.TargetSpec) analysis.Options {
	opts := c.opts.Scheduler.PlanOptions(1)
	if spec.MinHacks > 0 {
		opts.MinCount = spec.MinHacks
	}
	return opts
}
