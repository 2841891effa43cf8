package scheduler

import (
	"context"

	"github.com/cuemby/cadence/pkg/metrics"
	"github.com/cuemby/cadence/pkg/protocol"
	"github.com/cuemby/cadence/pkg/types"
)

// smoothing is the weight of a new sample in the money and security averages
const smoothing = 0.001

// handleFinished accounts for one finished job and releases it through the
// barrier. A second notification for the same job is counted and otherwise
// ignored.
func (s *Scheduler) handleFinished(ctx context.Context, st *State, msg protocol.Finished) error {
	op, ok := st.ops[msg.ID]
	if !ok || !op.Dispatched {
		st.duplicateFinishes++
		metrics.DuplicateFinishes.Inc()
		s.logger.Warn().Int64("op_id", msg.ID).Msg("Finish notification for unknown job")
		return s.releaseBarrier(ctx)
	}
	delete(st.ops, msg.ID)

	w := st.work(op.Target)
	now := s.now()

	op.Region.ActualFinish = msg.FinishedAt
	st.credit(op.Host, op.Memory)
	w.metrics.ActiveJobs--

	switch {
	case op.Prep:
		w.prepOutstanding--
	case op.Batch != nil:
		s.completeStep(w, op.Batch)
	}

	s.sample(w, op.Kind)

	w.logger.Debug().
		Int64("op_id", op.ID).
		Str("kind", op.Kind.String()).
		Str("host", op.Host).
		Dur("drift", msg.FinishedAt.Sub(op.Region.End)).
		Msg("Step finished")

	if op.Prep || w.plan == nil {
		return s.releaseBarrier(ctx)
	}

	nominal := s.securityNominal(w)
	if nominal && s.env.Skill() != w.plan.Skill {
		s.reanalyze(st, w, now)
	}

	finalWeaken := op.Batch != nil && op.Kind == types.OperationWeaken && op.Step.ExecuteOrder == op.Batch.Steps-1
	if finalWeaken && nominal {
		s.materialize(st, w, now)
	}

	if op.Region.State == types.RegionStabilization {
		s.placeStabilization(st, w, msg.FinishedAt.Add(stabilizeSpacing(w.plan.Stride())))
	}

	if err := s.dispatchDue(ctx, st, w, now); err != nil {
		return err
	}
	return s.releaseBarrier(ctx)
}

// completeStep retires one step of a batch. The batch counters change only
// when its last step is retired.
func (s *Scheduler) completeStep(w *Work, b *Batch) {
	b.Remaining--
	if b.Remaining > 0 {
		return
	}

	if b.Started > 0 {
		w.metrics.ActiveBatches--
	}
	switch b.State {
	case types.RegionNormal:
		w.metrics.RealisedBatches++
	case types.RegionDelayed:
		w.metrics.RealisedBatches++
		w.metrics.DelayedBatches++
	default:
		w.metrics.CancelledBatches++
	}
	delete(w.batches, b.ID)
}

// sample folds the target's state after a grow or weaken into the smoothed
// money and security figures
func (s *Scheduler) sample(w *Work, kind types.OperationKind) {
	switch kind {
	case types.OperationGrow:
		available, maximum := s.env.Money(w.Target)
		if maximum > 0 {
			w.metrics.Money = smoothing*(available/maximum) + (1-smoothing)*w.metrics.Money
		}
	case types.OperationWeaken:
		current, minimum := s.env.Security(w.Target)
		w.metrics.Security = smoothing*(current-minimum) + (1-smoothing)*w.metrics.Security
	}
}

func (s *Scheduler) releaseBarrier(ctx context.Context) error {
	select {
	case s.channels.Barrier <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
