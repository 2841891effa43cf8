package scheduler

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/cuemby/cadence/pkg/analysis"
	"github.com/cuemby/cadence/pkg/types"
	"github.com/cuemby/cadence/pkg/worker"
)

// prep brings a target to minimum security and maximum money before its
// first plan. Each round waits for the previous round's jobs: weakens until
// security is at its minimum, then grows covered by weakens until money is
// at its maximum.
func (s *Scheduler) prep(ctx context.Context, st *State, w *Work, now time.Time) error {
	if w.prepOutstanding > 0 {
		return nil
	}

	model := s.env.Model(w.Target)
	current, minimum := s.env.Security(w.Target)
	available, maximum := s.env.Money(w.Target)

	switch {
	case current > minimum+s.cfg.SecurityEpsilon:
		threads := analysis.WeakenThreads(model, current-minimum, 1)
		w.logger.Debug().
			Float64("security", current).
			Float64("minimum", minimum).
			Int("threads", threads).
			Msg("Weakening target")
		_, err := s.spread(ctx, st, w, types.OperationWeaken, threads, now)
		return err

	case maximum > 0 && available < maximum:
		grows, weakens := s.prepGrowth(st, model, available, maximum)
		if grows == 0 {
			return nil
		}
		w.logger.Debug().
			Float64("money", available).
			Float64("maximum", maximum).
			Int("grows", grows).
			Int("weakens", weakens).
			Msg("Growing target")
		if _, err := s.spread(ctx, st, w, types.OperationGrow, grows, now); err != nil {
			return err
		}
		_, err := s.spread(ctx, st, w, types.OperationWeaken, weakens, now)
		return err
	}

	s.reanalyze(st, w, now)
	s.setPhase(w, types.PhaseSteadyState, now)
	return nil
}

// prepGrowth sizes one grow round and the weakens that cover it to the
// memory currently free
func (s *Scheduler) prepGrowth(st *State, model analysis.Model, available, maximum float64) (grows, weakens int) {
	total, _ := st.freeMemory()
	total -= st.reserved

	grows = model.GrowThreads(available, maximum, 0, 1)
	for grows > 0 {
		weakens = analysis.WeakenThreads(model, model.GrowSecurity(grows, 1), 1)
		need := s.cfg.Costs.Grow*float64(grows) + s.cfg.Costs.Weaken*float64(weakens)
		if need <= total {
			return grows, weakens
		}
		grows /= 2
	}
	return 0, 0
}

// spread dispatches up to threads jobs of one kind across every worker,
// largest free memory first. The jobs run at once, outside any batch.
func (s *Scheduler) spread(ctx context.Context, st *State, w *Work, kind types.OperationKind, threads int, now time.Time) (int, error) {
	cost := s.cfg.Costs.Of(kind)
	if cost <= 0 {
		return 0, nil
	}

	hosts := make([]types.Worker, len(st.workers))
	copy(hosts, st.workers)
	sort.SliceStable(hosts, func(i, j int) bool { return hosts[i].FreeMemory > hosts[j].FreeMemory })

	dispatched := 0
	for _, host := range hosts {
		if threads <= 0 {
			break
		}
		n := int(math.Floor(host.FreeMemory / cost))
		if n > threads {
			n = threads
		}
		if n < 1 {
			continue
		}

		op := &PendingOperation{
			ID:             st.newOpID(),
			Target:         w.Target,
			Kind:           kind,
			Origin:         kind,
			Threads:        n,
			ThreadsPrimary: n,
			Prep:           true,
			Region: &types.Region{
				Kind:  kind,
				State: types.RegionNormal,
				Batch: -1,
				Start: now,
				End:   now,
			},
		}
		st.ops[op.ID] = op

		ok, err := s.launch(ctx, st, w, op, worker.DispatchRequest{
			Kind:       kind,
			Threads:    n,
			Host:       host.Host,
			Target:     w.Target,
			PlannedEnd: now,
		})
		if err != nil {
			return dispatched, err
		}
		if !ok {
			delete(st.ops, op.ID)
			continue
		}

		w.prepOutstanding++
		threads -= n
		dispatched += n
	}
	return dispatched, nil
}
