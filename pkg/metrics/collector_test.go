package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/types"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func testSnapshot() *types.Snapshot {
	return &types.Snapshot{
		RunID: "run",
		Time:  time.Now(),
		Targets: []types.TargetSnapshot{{
			Target: "collector-test",
			Phase:  types.PhaseDegraded,
			Analysis: types.AnalysisSummary{
				Composition: "H79 G479 W43",
				Score:       1234,
			},
			Metrics: types.Metrics{
				Money:            0.95,
				Security:         0.5,
				TotalBatches:     12,
				RealisedBatches:  9,
				CancelledBatches: 2,
				DroppedJobs:      3,
			},
		}},
	}
}

func TestObserve(t *testing.T) {
	Observe(testSnapshot())

	const target = "collector-test"
	assert.Equal(t, 12.0, gaugeValue(t, TargetBatches.WithLabelValues(target, "total")))
	assert.Equal(t, 9.0, gaugeValue(t, TargetBatches.WithLabelValues(target, "realised")))
	assert.Equal(t, 2.0, gaugeValue(t, TargetBatches.WithLabelValues(target, "cancelled")))
	assert.Equal(t, 3.0, gaugeValue(t, TargetJobs.WithLabelValues(target, "dropped")))
	assert.Equal(t, 0.95, gaugeValue(t, TargetMoney.WithLabelValues(target)))
	assert.Equal(t, 0.5, gaugeValue(t, TargetSecurity.WithLabelValues(target)))
	assert.Equal(t, 1234.0, gaugeValue(t, PlannerScore.WithLabelValues(target)))

	assert.Equal(t, 1.0, gaugeValue(t, TargetPhase.WithLabelValues(target, string(types.PhaseDegraded))))
	assert.Equal(t, 0.0, gaugeValue(t, TargetPhase.WithLabelValues(target, string(types.PhaseSteadyState))))
}

func TestCollectorFollowsBroker(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	c := NewCollector(broker)
	c.Start()

	snap := testSnapshot()
	snap.Targets[0].Target = "collector-broker"
	snap.Targets[0].Metrics.TotalJobs = 42
	require.True(t, broker.Publish(&events.Event{Type: events.EventSnapshot, Snapshot: snap}))

	assert.Eventually(t, func() bool {
		var m dto.Metric
		if err := TargetJobs.WithLabelValues("collector-broker", "total").Write(&m); err != nil {
			return false
		}
		return m.GetGauge().GetValue() == 42
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	assert.Equal(t, 0, broker.SubscriberCount())
}
