package scheduler

import (
	"math"
	"strconv"
	"time"

	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/metrics"
	"github.com/cuemby/cadence/pkg/types"
)

// fill places batches until the target's window, budget or concurrency
// limit is reached
func (s *Scheduler) fill(st *State, w *Work, now time.Time) int {
	if w.phase != types.PhaseSteadyState && w.phase != types.PhaseDegraded {
		return 0
	}

	placed := 0
	for s.materialize(st, w, now) {
		placed++
	}
	return placed
}

// materialize places one batch on the timeline. It returns false when no
// batch could be placed.
func (s *Scheduler) materialize(st *State, w *Work, now time.Time) bool {
	p := w.plan
	if p == nil || p.Layout.Len() == 0 || w.budget <= 0 {
		return false
	}
	if len(w.batches) >= w.maxConcurrency {
		return false
	}

	stride := p.Stride()
	lead := s.advanceCursor(w, now, stride)
	if !w.groupStart.Before(now.Add(lead + p.Span)) {
		return false
	}

	total, largest := st.freeMemory()
	if total-st.reserved < p.Memory || largest < p.PeakMemory {
		w.metrics.OOMBatches++
		w.logger.Debug().
			Float64("free", total-st.reserved).
			Float64("largest", largest).
			Float64("required", p.Memory).
			Float64("peak", p.PeakMemory).
			Msg("Not enough memory for a batch")
		return false
	}

	batch := &Batch{
		ID:        w.nextBatchID,
		Steps:     p.Layout.Len(),
		Remaining: p.Layout.Len(),
		State:     types.RegionNormal,
	}
	start := w.groupStart

	regions := make([]*types.Region, len(p.Layout.Steps))
	for i, step := range p.Layout.Steps {
		begin := start.Add(step.Offset)
		regions[i] = &types.Region{
			Kind:  step.Kind,
			State: types.RegionNormal,
			Batch: batch.ID,
			Order: step.ExecuteOrder,
			Start: begin,
			End:   begin.Add(step.Duration),
		}
	}

	shift := s.correctDrift(w, regions)
	if shift > 0 {
		batch.State = types.RegionDelayed
		for _, r := range regions {
			r.Start = r.Start.Add(shift)
			r.End = r.End.Add(shift)
			r.State = types.RegionDelayed
		}

		w.logger.Debug().
			Int64("batch", batch.ID).
			Dur("shift", shift).
			Msg("Batch delayed to clear a weaken region")
		s.publish(&events.Event{
			Type:      events.EventBatchDelayed,
			Timestamp: now,
			Target:    w.Target,
			Metadata: map[string]string{
				"batch": strconv.FormatInt(batch.ID, 10),
				"shift": shift.String(),
			},
		})
	}

	for i, step := range p.Layout.Steps {
		op := &PendingOperation{
			ID:             st.newOpID(),
			Target:         w.Target,
			Batch:          batch,
			Step:           step,
			Region:         regions[i],
			Kind:           step.Kind,
			Origin:         step.Kind,
			Threads:        step.Threads,
			ThreadsPrimary: step.ThreadsPrimary,
		}
		s.enqueue(st, w, op)
		w.regions.Enqueue(regions[i])
	}

	w.batches[batch.ID] = batch
	w.nextBatchID++
	w.groupStart = start.Add(stride + shift)
	w.batchesPlaced++
	metrics.BatchesMaterialized.WithLabelValues(w.Target).Inc()

	if w.stabilizeUntil.IsZero() {
		w.stabilizeStart = start
		w.stabilizeUntil = start.Add(p.Span)
	}
	if s.cfg.StabilizeEvery > 0 && w.batchesPlaced%s.cfg.StabilizeEvery == 0 && w.stabilizeStart.Before(w.stabilizeUntil) {
		s.placeStabilization(st, w, w.stabilizeStart)
		w.stabilizeStart = w.stabilizeStart.Add(stabilizeSpacing(stride) * time.Duration(s.cfg.StabilizeEvery))
	}

	return true
}

// advanceCursor moves the next batch start forward by whole strides until
// it leads now by at least the jitter margin and one stride. The cursor
// never moves backward. It returns the lead used.
func (s *Scheduler) advanceCursor(w *Work, now time.Time, stride time.Duration) time.Duration {
	lead := s.cfg.Jitter
	if stride > lead {
		lead = stride
	}

	earliest := now.Add(lead)
	switch {
	case w.groupStart.IsZero():
		w.groupStart = earliest
	case w.groupStart.Before(earliest):
		if stride <= 0 {
			w.groupStart = earliest
			break
		}
		gap := earliest.Sub(w.groupStart)
		n := (gap + stride - 1) / stride
		w.groupStart = w.groupStart.Add(n * stride)
	}
	return lead
}

// correctDrift returns how far a batch must be delayed so that no step
// starts while another batch has left the target's security raised. After
// MaxShifts attempts the last shift is accepted.
func (s *Scheduler) correctDrift(w *Work, regions []*types.Region) time.Duration {
	var shift time.Duration
	for attempt := 0; attempt < s.cfg.MaxShifts; attempt++ {
		var needed time.Duration
		for _, r := range regions {
			if d := s.delayToSafeRegion(w, r.Start.Add(shift)); d > needed {
				needed = d
			}
		}
		if needed == 0 {
			return shift
		}
		shift += needed + s.cfg.ShiftEpsilon
	}

	w.logger.Warn().Dur("shift", shift).Msg("Drift correction gave up, keeping last shift")
	return shift
}

// delayToSafeRegion returns the time from start until the end of the next
// weaken region, or zero when the last region ending before start is
// already a weaken
func (s *Scheduler) delayToSafeRegion(w *Work, start time.Time) time.Duration {
	idx := w.regions.Search(&types.Region{End: start, Batch: math.MaxInt64, Order: math.MaxInt})
	if idx == 0 {
		return 0
	}

	prev, _ := w.regions.Get(idx - 1)
	if prev.Kind == types.OperationWeaken {
		return 0
	}

	for i := idx; i < w.regions.Len(); i++ {
		r, _ := w.regions.Get(i)
		if r.Kind == types.OperationWeaken {
			return r.End.Sub(start)
		}
	}
	return 0
}

// placeStabilization queues a weaken that belongs to no batch, sized as a
// multiple of one of the plan's weaken steps
func (s *Scheduler) placeStabilization(st *State, w *Work, start time.Time) {
	p := w.plan
	if p == nil {
		return
	}

	var weakens []int
	steps := p.Layout.ByExecuteOrder()
	for i, step := range steps {
		if step.Kind == types.OperationWeaken {
			weakens = append(weakens, i)
		}
	}
	if len(weakens) == 0 {
		return
	}

	step := steps[weakens[w.stabilizeCount%len(weakens)]]
	w.stabilizeCount++

	op := &PendingOperation{
		ID:             st.newOpID(),
		Target:         w.Target,
		Step:           step,
		Kind:           types.OperationWeaken,
		Origin:         types.OperationWeaken,
		Threads:        step.Threads * s.cfg.StabilizeBatches,
		ThreadsPrimary: step.ThreadsPrimary * s.cfg.StabilizeBatches,
		Region: &types.Region{
			Kind:  types.OperationWeaken,
			State: types.RegionStabilization,
			Batch: -1,
			Order: step.ExecuteOrder,
			Start: start,
			End:   start.Add(p.Durations.Weaken),
		},
	}
	s.enqueue(st, w, op)
	w.metrics.StabilizationJobs++
}

// enqueue adds a step to the launch queue and reserves its memory
func (s *Scheduler) enqueue(st *State, w *Work, op *PendingOperation) {
	st.ops[op.ID] = op
	w.launches.Enqueue(op)
	st.reserved += s.cfg.Costs.Of(op.Kind) * float64(op.Threads)
}

// unreserve releases the reservation of a step leaving the launch queue
func (s *Scheduler) unreserve(st *State, op *PendingOperation) {
	st.reserved -= s.cfg.Costs.Of(op.Origin) * float64(op.Threads)
	if st.reserved < 0 {
		st.reserved = 0
	}
}

// stabilizeSpacing is the smallest prime number of milliseconds above the
// stride
func stabilizeSpacing(stride time.Duration) time.Duration {
	return time.Duration(nextPrimeAbove(int(stride/time.Millisecond))) * time.Millisecond
}

func nextPrimeAbove(n int) int {
	if n <= 1 {
		return 2
	}
	for {
		n++
		if isPrime(n) {
			return n
		}
	}
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for d := 2; d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}
	return true
}
