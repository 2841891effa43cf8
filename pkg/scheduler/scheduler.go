package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/cadence/pkg/analysis"
	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/layout"
	"github.com/cuemby/cadence/pkg/log"
	"github.com/cuemby/cadence/pkg/metrics"
	"github.com/cuemby/cadence/pkg/protocol"
	"github.com/cuemby/cadence/pkg/types"
	"github.com/cuemby/cadence/pkg/worker"
)

var (
	// ErrProtocolViolation is returned by Run when a job broke the
	// notification contract. The operation index can no longer be trusted.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrStopped is returned by Submit once the scheduler has exited
	ErrStopped = errors.New("scheduler stopped")
)

// Environment exposes the live state of the targets being scheduled
type Environment interface {
	// Model returns the planning model of a target
	Model(target string) analysis.Model

	// Security returns the target's current and minimum security
	Security(target string) (current, minimum float64)

	// Money returns the target's available and maximum money
	Money(target string) (available, maximum float64)

	// Skill returns the level that scales every operation
	Skill() int
}

// Sink receives the periodic snapshots and lifecycle events
type Sink interface {
	Publish(event *events.Event) bool
}

// TargetSpec is the initial configuration of one target
type TargetSpec struct {
	Name     string
	Budget   float64
	MinHacks int
}

// Scheduler runs batches against one or more targets on a worker pool.
// Everything it owns is confined to the goroutine running Run.
type Scheduler struct {
	cfg   Config
	pool  worker.Pool
	env   Environment
	sink  Sink
	runID string

	channels *protocol.Channels
	control  chan protocol.Command
	done     chan struct{}

	state  *State
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a scheduler for the given targets
func New(cfg Config, pool worker.Pool, env Environment, sink Sink, targets ...TargetSpec) *Scheduler {
	cfg = cfg.withDefaults()

	s := &Scheduler{
		cfg:      cfg,
		pool:     pool,
		env:      env,
		sink:     sink,
		runID:    cfg.RunID,
		channels: protocol.NewChannels(cfg.ChannelCapacity),
		control:  make(chan protocol.Command, 16),
		done:     make(chan struct{}),
		state:    newState(),
		now:      time.Now,
		logger:   log.WithComponent("scheduler"),
	}

	for _, spec := range targets {
		w := s.state.work(spec.Name)
		if spec.Budget > 0 {
			w.budget = spec.Budget
		}
		w.minHacks = spec.MinHacks
	}

	return s
}

// RunID returns the identifier stamped on every snapshot of this scheduler
func (s *Scheduler) RunID() string {
	return s.runID
}

// Channels returns the notification channels jobs report on
func (s *Scheduler) Channels() *protocol.Channels {
	return s.channels
}

// Submit queues a control command. It is applied at the next report.
func (s *Scheduler) Submit(ctx context.Context, cmd protocol.Command) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	select {
	case s.control <- cmd:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the scheduler's event loop. It returns nil when ctx is cancelled
// and a wrapped ErrProtocolViolation when a job broke the channel contract.
func (s *Scheduler) Run(ctx context.Context) (err error) {
	defer close(s.done)
	defer func() {
		s.shutdown()
		ev := &events.Event{Type: events.EventSchedulerExit, Timestamp: s.now()}
		if err != nil {
			ev.Message = err.Error()
		}
		s.publish(ev)
	}()

	st := s.state
	if err := s.refreshWorkers(ctx, st); err != nil {
		return fmt.Errorf("failed to list workers: %w", err)
	}

	s.logger.Info().
		Str("run_id", s.runID).
		Int("targets", len(st.order)).
		Int("workers", len(st.workers)).
		Msg("Scheduler started")

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	if err := s.tick(ctx, st); err != nil {
		return stopped(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopping")
			return nil
		case data := <-s.channels.Finish:
			if err := s.onFinishMessage(ctx, st, data); err != nil {
				return stopped(ctx, err)
			}
		case cmd := <-s.control:
			st.commands = append(st.commands, cmd)
		case <-ticker.C:
			if err := s.tick(ctx, st); err != nil {
				return stopped(ctx, err)
			}
		}
	}
}

// stopped maps errors caused by the run's own cancellation to a clean exit
func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// shutdown stops every job still running
func (s *Scheduler) shutdown() {
	for _, op := range s.state.ops {
		if op.Dispatched && op.Handle.Cancel != nil {
			op.Handle.Cancel()
		}
	}
}

func (s *Scheduler) onFinishMessage(ctx context.Context, st *State, data []byte) error {
	msg, err := protocol.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	finished, ok := msg.(protocol.Finished)
	if !ok {
		return fmt.Errorf("%w: unexpected %s message on finish channel", ErrProtocolViolation, msg.MessageType())
	}
	return s.handleFinished(ctx, st, finished)
}

// tick runs one scheduling cycle over every target
func (s *Scheduler) tick(ctx context.Context, st *State) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TickDuration)

	now := s.now()

	if now.Sub(st.lastReport) >= s.cfg.ReportInterval {
		if err := s.refreshWorkers(ctx, st); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to refresh workers")
		}
		s.applyCommands(st, now)
		s.report(st, now)
		st.lastReport = now
	}

	for _, target := range st.order {
		if err := s.step(ctx, st, st.targets[target], now); err != nil {
			return err
		}
	}
	return nil
}

// step advances one target's state machine
func (s *Scheduler) step(ctx context.Context, st *State, w *Work, now time.Time) error {
	switch w.phase {
	case types.PhaseUninitialized:
		s.setPhase(w, types.PhasePrepping, now)
		return s.prep(ctx, st, w, now)
	case types.PhasePrepping:
		return s.prep(ctx, st, w, now)
	case types.PhaseDegraded:
		if s.recovered(w) {
			s.reanalyze(st, w, now)
			s.setPhase(w, types.PhaseSteadyState, now)
		}
	}

	nominal := s.securityNominal(w)
	if nominal && w.plan != nil && w.plan.Skill != s.env.Skill() {
		s.reanalyze(st, w, now)
	}

	if w.budget > 0 && w.metrics.Money < s.cfg.MoneyFloor {
		w.logger.Warn().
			Float64("money", w.metrics.Money).
			Msg("Target drained, disabling new batches")
		s.setBudget(st, w, 0, now)
	}

	s.fill(st, w, now)
	return s.dispatchDue(ctx, st, w, now)
}

// refreshWorkers replaces the local worker view and syncs new hosts
func (s *Scheduler) refreshWorkers(ctx context.Context, st *State) error {
	workers, err := s.pool.ListWorkers(ctx)
	if err != nil {
		return err
	}

	// the pool's numbers already include every dispatched job
	st.workers = workers

	for _, w := range workers {
		if st.synced[w.Host] {
			continue
		}
		if err := s.pool.Sync(ctx, w.Host); err != nil {
			s.logger.Warn().Err(err).Str("host", w.Host).Msg("Failed to sync payloads")
			continue
		}
		st.synced[w.Host] = true
	}
	return nil
}

func (s *Scheduler) applyCommands(st *State, now time.Time) {
	for _, cmd := range st.commands {
		for _, b := range cmd.Budgets {
			w := st.work(b.Target)
			if b.MinHacks > 0 && b.MinHacks != w.minHacks {
				w.minHacks = b.MinHacks
				if w.plan != nil && s.securityNominal(w) {
					s.reanalyze(st, w, now)
				}
			}
			s.setBudget(st, w, b.Budget, now)
		}
	}
	st.commands = nil
}

func (s *Scheduler) setBudget(st *State, w *Work, budget float64, now time.Time) {
	if budget < 0 {
		budget = 0
	}
	if budget == w.budget {
		return
	}

	w.budget = budget
	w.maxConcurrency = s.concurrency(st, w)
	w.logger.Info().
		Float64("budget", budget).
		Int("max_concurrency", w.maxConcurrency).
		Msg("Budget changed")

	s.publish(&events.Event{
		Type:      events.EventBudgetChanged,
		Timestamp: now,
		Target:    w.Target,
		Metadata:  map[string]string{"budget": fmt.Sprintf("%g", budget)},
	})
}

func (s *Scheduler) setPhase(w *Work, phase types.Phase, now time.Time) {
	if w.phase == phase {
		return
	}

	from := w.phase
	w.phase = phase
	w.logger.Info().
		Str("from", string(from)).
		Str("to", string(phase)).
		Msg("Phase changed")

	s.publish(&events.Event{
		Type:      events.EventPhaseChanged,
		Timestamp: now,
		Target:    w.Target,
		Metadata:  map[string]string{"from": string(from), "to": string(phase)},
	})
}

// reanalyze plans the target against its current model and swaps the plan
func (s *Scheduler) reanalyze(st *State, w *Work, now time.Time) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ReanalysisDuration, w.Target)

	model := s.env.Model(w.Target)
	opts := s.cfg.PlanOptions(1)
	if w.minHacks > opts.MinCount {
		opts.MinCount = w.minHacks
	}
	if opts.MaxCount < opts.MinCount {
		opts.MaxCount = opts.MinCount
	}

	a := analysis.Plan(model, opts)
	durations := model.Durations()
	lay := layout.Calculate(a.Composition, durations, s.cfg.StepBuffer)

	if cores := st.primaryCores(); cores > 1 {
		primary := analysis.ForCores(model, a.Composition, cores, opts)
		lay = lay.WithPrimary(layout.Calculate(primary, durations, s.cfg.StepBuffer))
	}

	w.plan = &Plan{
		Analysis:   a,
		Durations:  durations,
		Layout:     lay,
		Memory:     lay.Memory(s.cfg.Costs),
		PeakMemory: lay.PeakMemory(s.cfg.Costs),
		Span:       lay.Span(),
		Skill:      s.env.Skill(),
		PlannedAt:  now,
	}
	w.maxConcurrency = s.concurrency(st, w)

	summary := s.summary(w)
	w.logger.Info().
		Str("composition", summary.Composition).
		Float64("score", summary.Score).
		Dur("stride", summary.Stride).
		Int("max_concurrency", summary.MaxConcurrency).
		Msg("Target analyzed")

	s.publish(&events.Event{
		Type:      events.EventReanalyzed,
		Timestamp: now,
		Target:    w.Target,
		Analysis:  &summary,
	})
}

// concurrency bounds the open batches of a target by its memory budget and
// by how many strides fit into one batch span. At least one batch is always
// allowed so that memory shortage shows up in the batch counters.
func (s *Scheduler) concurrency(st *State, w *Work) int {
	if w.plan == nil {
		return 0
	}

	stride := w.plan.Stride()
	byTime := 1
	if stride > 0 && w.plan.Span > stride {
		byTime = int(w.plan.Span / stride)
	}
	if w.plan.Memory <= 0 {
		return byTime
	}

	byMemory := int(w.budget * st.maxMemory() / w.plan.Memory)
	if byMemory < 1 {
		byMemory = 1
	}
	if byMemory < byTime {
		return byMemory
	}
	return byTime
}

func (s *Scheduler) summary(w *Work) types.AnalysisSummary {
	if w.plan == nil {
		return types.AnalysisSummary{}
	}
	summary := w.plan.Analysis.Summary()
	summary.MaxConcurrency = w.maxConcurrency
	return summary
}

func (s *Scheduler) securityNominal(w *Work) bool {
	current, minimum := s.env.Security(w.Target)
	return current <= minimum+s.cfg.SecurityEpsilon
}

// recovered reports whether a degraded target may resume normal batches
func (s *Scheduler) recovered(w *Work) bool {
	if !s.securityNominal(w) {
		return false
	}
	available, maximum := s.env.Money(w.Target)
	return maximum > 0 && available/maximum >= s.cfg.MoneyThreshold
}

// report prunes old regions and publishes a snapshot of every target
func (s *Scheduler) report(st *State, now time.Time) {
	snap := &types.Snapshot{
		RunID:             s.runID,
		Time:              now,
		DuplicateFinishes: st.duplicateFinishes,
		Targets:           make([]types.TargetSnapshot, 0, len(st.order)),
	}

	for _, target := range st.order {
		w := st.targets[target]
		s.prune(w, now)

		ts := types.TargetSnapshot{
			Target:   w.Target,
			Phase:    w.phase,
			Prepped:  w.phase == types.PhaseSteadyState || w.phase == types.PhaseDegraded,
			Budget:   w.budget,
			MinHacks: w.minHacks,
			Analysis: s.summary(w),
			Metrics:  w.metrics,
		}

		// newest regions, reported in end order
		for i := w.regions.Len() - 1; i >= 0 && len(ts.Regions) < s.cfg.ReportRegions; i-- {
			r, _ := w.regions.Get(i)
			if r.Reportable() {
				ts.Regions = append(ts.Regions, *r)
			}
		}
		slices.Reverse(ts.Regions)

		snap.Targets = append(snap.Targets, ts)
	}

	s.publish(&events.Event{Type: events.EventSnapshot, Timestamp: now, Snapshot: snap})
}

// prune drops regions that ended more than the retention window ago
func (s *Scheduler) prune(w *Work, now time.Time) {
	if w.plan == nil {
		return
	}
	cutoff := now.Add(-time.Duration(s.cfg.RetentionStrides) * w.plan.Stride())
	for {
		r, ok := w.regions.Peek()
		if !ok || !r.End.Before(cutoff) {
			return
		}
		w.regions.Dequeue()
	}
}

func (s *Scheduler) publish(ev *events.Event) {
	if s.sink == nil {
		return
	}
	if !s.sink.Publish(ev) {
		s.logger.Debug().Str("type", string(ev.Type)).Msg("Event dropped, sink full")
	}
}
