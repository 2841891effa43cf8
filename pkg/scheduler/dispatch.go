package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/metrics"
	"github.com/cuemby/cadence/pkg/protocol"
	"github.com/cuemby/cadence/pkg/types"
	"github.com/cuemby/cadence/pkg/worker"
)

// dispatchDue dispatches queued steps in planned start order. It stops at
// the first step that is not due yet, cannot be placed on a worker, or must
// wait for the target's security to settle.
func (s *Scheduler) dispatchDue(ctx context.Context, st *State, w *Work, now time.Time) error {
	nominal := s.securityNominal(w)

	for {
		op, ok := w.launches.Peek()
		if !ok {
			return nil
		}
		if s.cfg.SpawnAhead > 0 && op.Region.Start.Add(-s.cfg.SpawnAhead).After(now) {
			return nil
		}

		if now.After(op.Region.Start) {
			w.launches.Dequeue()
			s.drop(st, w, op, now)
			continue
		}

		// outside even batches only weakens run while security is raised
		if !nominal && op.Kind != types.OperationWeaken && !evenBatch(op) {
			return nil
		}

		if evenBatch(op) {
			s.substitute(w, op, nominal, now)
		}

		dispatched, err := s.dispatchOp(ctx, st, w, op)
		if err != nil {
			return err
		}
		if !dispatched {
			return nil
		}
		w.launches.Dequeue()
		s.unreserve(st, op)
	}
}

func evenBatch(op *PendingOperation) bool {
	return op.Batch != nil && op.Batch.ID%2 == 0
}

// substitute reclassifies a step of an even batch whose preconditions no
// longer hold. Hacks and grows become weaken padding under heavy security
// drift; hacks are cancelled when security or money is off; grows are
// cancelled when the skill moved since planning. Cancelled steps still run
// for their timing.
func (s *Scheduler) substitute(w *Work, op *PendingOperation, nominal bool, now time.Time) {
	if op.Kind != types.OperationHack && op.Kind != types.OperationGrow {
		return
	}

	current, minimum := s.env.Security(w.Target)

	switch {
	case current-minimum > s.cfg.PaddingThreshold:
		op.Kind = types.OperationWeaken
		op.Region.Kind = types.OperationWeaken
		op.Region.State = types.RegionPadding
		op.Batch.degrade(types.RegionCancelled)
		w.metrics.PaddedJobs++
	case op.Kind == types.OperationHack && (!nominal || w.metrics.Money <= s.cfg.MoneyThreshold):
		op.Region.State = types.RegionCancelled
		op.Batch.degrade(types.RegionCancelled)
	case op.Kind == types.OperationGrow && w.plan != nil && s.env.Skill() != w.plan.Skill:
		op.Region.State = types.RegionCancelled
		op.Batch.degrade(types.RegionCancelled)
	default:
		return
	}

	w.logger.Debug().
		Int64("op_id", op.ID).
		Int64("batch", op.Batch.ID).
		Str("kind", op.Origin.String()).
		Str("state", op.Region.State.String()).
		Msg("Step substituted")

	if w.phase == types.PhaseSteadyState {
		s.setPhase(w, types.PhaseDegraded, now)
	}
}

// drop discards a step whose planned start has passed
func (s *Scheduler) drop(st *State, w *Work, op *PendingOperation, now time.Time) {
	s.unreserve(st, op)
	delete(st.ops, op.ID)

	stabilization := op.Region.State == types.RegionStabilization
	op.Region.State = types.RegionCancelled
	w.metrics.DroppedJobs++
	metrics.JobsDropped.WithLabelValues(w.Target).Inc()

	w.logger.Warn().
		Int64("op_id", op.ID).
		Str("kind", op.Kind.String()).
		Dur("late", now.Sub(op.Region.Start)).
		Msg("Dropped step past its start")

	s.publish(&events.Event{
		Type:      events.EventJobDropped,
		Timestamp: now,
		Target:    w.Target,
		Metadata: map[string]string{
			"op_id": strconv.FormatInt(op.ID, 10),
			"kind":  op.Kind.String(),
		},
	})

	switch {
	case op.Batch != nil:
		op.Batch.degrade(types.RegionCancelled)
		s.completeStep(w, op.Batch)
	case stabilization && w.plan != nil:
		// keep the stabilization chain alive
		s.placeStabilization(st, w, now.Add(stabilizeSpacing(w.plan.Stride())))
	}
}

// dispatchOp places a queued step on a worker. It returns false when no
// worker can take it right now.
func (s *Scheduler) dispatchOp(ctx context.Context, st *State, w *Work, op *PendingOperation) (bool, error) {
	host, threads, ok := s.selectWorker(st, op.Kind, op.Threads, op.ThreadsPrimary)
	if !ok {
		w.metrics.OOMJobs++
		return false, nil
	}

	req := worker.DispatchRequest{
		Kind:       op.Kind,
		Threads:    threads,
		Host:       host,
		Target:     w.Target,
		PlannedEnd: op.Region.End,
		Duration:   op.Step.Duration,
		Skip:       op.Region.State == types.RegionCancelled,
	}
	if op.Kind != op.Origin && w.plan != nil {
		req.Duration = w.plan.Durations.Of(op.Kind)
	}

	return s.launch(ctx, st, w, op, req)
}

// selectWorker picks a host for a step. Non-primary hosts with the most
// free memory are preferred; the primary host runs its own thread count and
// is the last resort, except for grows which gain from its cores.
func (s *Scheduler) selectWorker(st *State, kind types.OperationKind, threads, threadsPrimary int) (string, int, bool) {
	cost := s.cfg.Costs.Of(kind)

	var (
		best        string
		bestFree    float64
		primary     string
		primaryFits bool
	)
	for _, wk := range st.workers {
		if wk.Primary {
			primary = wk.Host
			primaryFits = wk.FreeMemory >= cost*float64(threadsPrimary)
			continue
		}
		if wk.FreeMemory >= cost*float64(threads) && wk.FreeMemory > bestFree {
			best = wk.Host
			bestFree = wk.FreeMemory
		}
	}

	switch {
	case kind == types.OperationGrow && primaryFits:
		return primary, threadsPrimary, true
	case best != "":
		return best, threads, true
	case primaryFits:
		return primary, threadsPrimary, true
	default:
		return "", 0, false
	}
}

// launch hands a step to the pool and waits for its start notification
func (s *Scheduler) launch(ctx context.Context, st *State, w *Work, op *PendingOperation, req worker.DispatchRequest) (bool, error) {
	if !st.synced[req.Host] {
		if err := s.pool.Sync(ctx, req.Host); err != nil {
			w.logger.Warn().Err(err).Str("host", req.Host).Msg("Failed to sync payloads")
			return false, nil
		}
		st.synced[req.Host] = true
	}

	req.OpID = op.ID
	req.Channels = s.channels

	timer := metrics.NewTimer()
	handle, err := s.pool.Dispatch(ctx, req)
	if err != nil {
		if errors.Is(err, worker.ErrInsufficientMemory) {
			w.metrics.OOMJobs++
		}
		w.logger.Debug().Err(err).Int64("op_id", op.ID).Str("host", req.Host).Msg("Dispatch refused")
		return false, nil
	}

	memory := s.cfg.Costs.Of(req.Kind) * float64(req.Threads)
	st.debit(req.Host, memory)
	op.Host = req.Host
	op.Memory = memory
	op.Handle = handle
	op.Dispatched = true

	started, err := s.awaitStarted(ctx, op.ID)
	if err != nil {
		return false, err
	}
	timer.ObserveDuration(metrics.DispatchLatency)

	s.onStarted(w, op, started)
	metrics.JobsDispatched.WithLabelValues(w.Target, req.Kind.String()).Inc()

	w.logger.Debug().
		Int64("op_id", op.ID).
		Str("job_id", handle.ID.String()).
		Str("kind", req.Kind.String()).
		Str("host", req.Host).
		Int("threads", req.Threads).
		Dur("delay", started.AppliedDelay).
		Msg("Step dispatched")

	return true, nil
}

// awaitStarted reads exactly one start notification, which must belong to
// the job just dispatched, and requires the start channel to be empty after
func (s *Scheduler) awaitStarted(ctx context.Context, id int64) (protocol.Started, error) {
	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()

	var data []byte
	select {
	case data = <-s.channels.Start:
	case <-timer.C:
		return protocol.Started{}, fmt.Errorf("%w: no start notification for op %d within %s", ErrProtocolViolation, id, s.cfg.StartTimeout)
	case <-ctx.Done():
		return protocol.Started{}, ctx.Err()
	}

	msg, err := protocol.Unmarshal(data)
	if err != nil {
		return protocol.Started{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	started, ok := msg.(protocol.Started)
	if !ok {
		return protocol.Started{}, fmt.Errorf("%w: unexpected %s message on start channel", ErrProtocolViolation, msg.MessageType())
	}
	if started.ID != id {
		return protocol.Started{}, fmt.Errorf("%w: start notification for op %d while waiting for op %d", ErrProtocolViolation, started.ID, id)
	}
	if n := len(s.channels.Start); n != 0 {
		return protocol.Started{}, fmt.Errorf("%w: %d unexpected start notifications pending", ErrProtocolViolation, n)
	}
	return started, nil
}

func (s *Scheduler) onStarted(w *Work, op *PendingOperation, msg protocol.Started) {
	op.Region.ActualStart = msg.StartedAt

	if !op.Prep && !s.securityNominal(w) {
		w.metrics.SecurityFailures++
	}
	w.metrics.ActiveJobs++
	w.metrics.TotalJobs++

	if op.Batch != nil {
		if op.Batch.Started == 0 {
			w.metrics.ActiveBatches++
			w.metrics.TotalBatches++
		}
		op.Batch.Started++
	}
}
