package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cadence/pkg/analysis"
	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/sim"
	"github.com/cuemby/cadence/pkg/types"
	"github.com/cuemby/cadence/pkg/worker"
)

func newSimulation(t *testing.T, server sim.Server) (*sim.World, *worker.LocalPool) {
	t.Helper()

	world := sim.NewWorld(sim.Options{Skill: 100, Formulas: true, TimeScale: 0.005})
	world.AddServer(server)

	pool := worker.NewLocalPool([]worker.Host{
		{Name: "home", MaxMemory: 2048, Cores: 1, Primary: true},
		{Name: "pserv-0", MaxMemory: 2048, Cores: 1},
	}, analysis.DefaultCosts, world)
	t.Cleanup(pool.Close)

	return world, pool
}

func runScheduler(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, errCh
}

func latestTarget(sink *recordingSink) (types.TargetSnapshot, bool) {
	snap := sink.lastSnapshot()
	if snap == nil || len(snap.Targets) == 0 {
		return types.TargetSnapshot{}, false
	}
	return snap.Targets[0], true
}

func TestRunCompletesBatches(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping simulation in short mode")
	}

	world, pool := newSimulation(t, sim.Server{
		Name:          target,
		MaxMoney:      2_500_000,
		Money:         2_500_000,
		MinSecurity:   5,
		Security:      5,
		Growth:        20,
		RequiredSkill: 10,
	})

	sink := &recordingSink{}
	s := New(DefaultConfig(), pool, world, sink, TargetSpec{Name: target, Budget: 1})
	cancel, errCh := runScheduler(t, s)

	require.Eventually(t, func() bool {
		ts, ok := latestTarget(sink)
		return ok && ts.Metrics.RealisedBatches+ts.Metrics.CancelledBatches > 0
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	ts, ok := latestTarget(sink)
	require.True(t, ok)
	assert.True(t, ts.Prepped)
	assert.Greater(t, ts.Metrics.TotalBatches, 0)
	assert.Greater(t, ts.Metrics.TotalJobs, 0)
	assert.NotEmpty(t, ts.Analysis.Composition)
	assert.Len(t, sink.ofType(events.EventSchedulerExit), 1)

	require.Eventually(t, func() bool { return pool.Running() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestRunPrepsDrainedTarget(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping simulation in short mode")
	}

	world, pool := newSimulation(t, sim.Server{
		Name:          target,
		MaxMoney:      2_500_000,
		Money:         1_000_000,
		MinSecurity:   5,
		Security:      9,
		Growth:        20,
		RequiredSkill: 10,
	})

	sink := &recordingSink{}
	s := New(DefaultConfig(), pool, world, sink, TargetSpec{Name: target, Budget: 1})
	cancel, errCh := runScheduler(t, s)

	require.Eventually(t, func() bool {
		ts, ok := latestTarget(sink)
		return ok && ts.Prepped && ts.Phase == types.PhaseSteadyState
	}, 15*time.Second, 20*time.Millisecond)

	assert.NotEmpty(t, sink.ofType(events.EventPhaseChanged))

	cancel()
	require.NoError(t, <-errCh)
}
