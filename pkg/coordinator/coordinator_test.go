package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cadence/pkg/analysis"
	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/protocol"
	"github.com/cuemby/cadence/pkg/scheduler"
	"github.com/cuemby/cadence/pkg/sim"
	"github.com/cuemby/cadence/pkg/worker"
)

func newWorld(timeScale float64) *sim.World {
	world := sim.NewWorld(sim.Options{Skill: 1000, Formulas: true, TimeScale: timeScale})
	world.AddServer(sim.Server{
		Name: "joesguns", MaxMoney: 2_500_000, Money: 2_500_000,
		MinSecurity: 5, Security: 5, Growth: 20, RequiredSkill: 10,
	})
	world.AddServer(sim.Server{
		Name: "foodnstuff", MaxMoney: 5_000_000, Money: 5_000_000,
		MinSecurity: 3, Security: 3, Growth: 20, RequiredSkill: 1,
	})
	// far from minimum security and slow to weaken
	world.AddServer(sim.Server{
		Name: "slow", MaxMoney: 50_000_000, Money: 1_000_000,
		MinSecurity: 30, Security: 90, Growth: 40, RequiredSkill: 500,
	})
	world.AddServer(sim.Server{Name: "darkweb", MinSecurity: 1, Security: 1})
	return world
}

func newPool(t *testing.T, effector worker.Effector) *worker.LocalPool {
	t.Helper()
	pool := worker.NewLocalPool([]worker.Host{
		{Name: "home", MaxMemory: 4096, Cores: 1, Primary: true},
		{Name: "pserv-0", MaxMemory: 2048, Cores: 1},
		{Name: "pserv-1", MaxMemory: 512, Cores: 1},
	}, analysis.DefaultCosts, effector)
	t.Cleanup(pool.Close)
	return pool
}

func testOptions() Options {
	cfg := scheduler.DefaultConfig()
	cfg.MaxHacks = 50
	return Options{Scheduler: cfg}
}

func specs(names ...string) []scheduler.TargetSpec {
	out := make([]scheduler.TargetSpec, 0, len(names))
	for _, n := range names {
		out = append(out, scheduler.TargetSpec{Name: n, Budget: 1})
	}
	return out
}

func TestAssign(t *testing.T) {
	world := newWorld(1)
	c := New(testOptions(), newPool(t, world), world, nil)

	assignments, err := c.Assign(context.Background(), specs("joesguns", "foodnstuff", "slow", "darkweb"))
	require.NoError(t, err)

	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		names = append(names, a.Spec.Name)
	}
	assert.ElementsMatch(t, []string{"joesguns", "foodnstuff"}, names)

	for i := 1; i < len(assignments); i++ {
		assert.GreaterOrEqual(t, assignments[i-1].Analysis.Score, assignments[i].Analysis.Score)
	}

	require.NotEmpty(t, assignments[0].Workers)
	assert.Equal(t, "home", assignments[0].Workers[0])

	seen := make(map[string]bool)
	for _, a := range assignments {
		for _, w := range a.Workers {
			assert.False(t, seen[w], "worker %s assigned twice", w)
			seen[w] = true
		}
	}
}

func TestAssignLimitsInstances(t *testing.T) {
	world := newWorld(1)
	opts := testOptions()
	opts.MaxInstances = 1
	c := New(opts, newPool(t, world), world, nil)

	assignments, err := c.Assign(context.Background(), specs("joesguns"))
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	// one batch worth of memory fits on the largest host alone
	assert.Equal(t, []string{"home"}, assignments[0].Workers)
}

func TestAssignBatchShorterThanStride(t *testing.T) {
	// weaken takes about 12ms against a 70ms stride
	world := newWorld(0.001)
	c := New(testOptions(), newPool(t, world), world, nil)

	assignments, err := c.Assign(context.Background(), specs("joesguns"))
	require.NoError(t, err)
	require.Len(t, assignments, 1)

	a := assignments[0].Analysis
	require.Less(t, a.PredictedTime, a.Composition.Stride)
	assert.Equal(t, []string{"home"}, assignments[0].Workers)
}

func TestAssignAllowsLongPrepWhenLimitRaised(t *testing.T) {
	world := newWorld(1)
	opts := testOptions()
	opts.MaxPrepTime = 24 * time.Hour
	c := New(opts, newPool(t, world), world, nil)

	assignments, err := c.Assign(context.Background(), specs("slow"))
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "slow", assignments[0].Spec.Name)
}

func TestRunWithoutWorkableTargets(t *testing.T) {
	world := newWorld(1)
	c := New(testOptions(), newPool(t, world), world, nil)

	err := c.Run(context.Background(), specs("darkweb"))
	assert.ErrorIs(t, err, ErrNoAssignment)

	// Submit no longer waits once Run has given up
	err = c.Submit(context.Background(), protocol.Command{
		Budgets: []protocol.TargetBudget{{Target: "darkweb", Budget: 1}},
	})
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestRunStopsOnCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping simulation in short mode")
	}

	world := newWorld(0.005)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	opts := testOptions()
	opts.MaxInstances = 2
	c := New(opts, newPool(t, world), world, broker)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx, specs("joesguns", "foodnstuff")) }()

	targets := make(map[string]bool)
	deadline := time.After(10 * time.Second)
	for len(targets) < 2 {
		select {
		case ev := <-sub:
			if ev.Type == events.EventSnapshot {
				for _, ts := range ev.Snapshot.Targets {
					targets[ts.Target] = true
				}
			}
		case <-deadline:
			t.Fatalf("snapshots seen for %v only", targets)
		}
	}

	assert.Equal(t, []string{"foodnstuff", "joesguns"}, c.Targets())

	err := c.Submit(ctx, protocol.Command{Budgets: []protocol.TargetBudget{
		{Target: "joesguns", Budget: 0.25},
		{Target: "n00dles", Budget: 1},
	}})
	assert.ErrorIs(t, err, ErrUnknownTarget)

	require.Eventually(t, func() bool {
		select {
		case ev := <-sub:
			return ev.Type == events.EventBudgetChanged && ev.Target == "joesguns"
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}
