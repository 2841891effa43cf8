package metrics

import (
	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/types"
)

var phases = []types.Phase{
	types.PhaseUninitialized,
	types.PhasePrepping,
	types.PhaseSteadyState,
	types.PhaseDegraded,
}

// Collector turns published scheduler snapshots into gauge values
type Collector struct {
	broker *events.Broker
	sub    events.Subscriber
	doneCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(broker *events.Broker) *Collector {
	return &Collector{
		broker: broker,
		doneCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	c.sub = c.broker.Subscribe(events.EventSnapshot, events.EventReanalyzed)
	go func() {
		defer close(c.doneCh)
		for ev := range c.sub {
			c.collect(ev)
		}
	}()
}

// Stop stops the collector and waits for it to drain
func (c *Collector) Stop() {
	if c.sub == nil {
		return
	}
	c.broker.Unsubscribe(c.sub)
	<-c.doneCh
}

func (c *Collector) collect(ev *events.Event) {
	switch ev.Type {
	case events.EventSnapshot:
		if ev.Snapshot != nil {
			Observe(ev.Snapshot)
		}
		EventsDropped.Set(float64(c.broker.Dropped()))
	case events.EventReanalyzed:
		if ev.Analysis != nil {
			PlannerScore.WithLabelValues(ev.Target).Set(ev.Analysis.Score)
		}
	}
}

// Observe sets the snapshot gauges from one snapshot
func Observe(snap *types.Snapshot) {
	for _, ts := range snap.Targets {
		m := ts.Metrics

		TargetBatches.WithLabelValues(ts.Target, "active").Set(float64(m.ActiveBatches))
		TargetBatches.WithLabelValues(ts.Target, "total").Set(float64(m.TotalBatches))
		TargetBatches.WithLabelValues(ts.Target, "oom").Set(float64(m.OOMBatches))
		TargetBatches.WithLabelValues(ts.Target, "realised").Set(float64(m.RealisedBatches))
		TargetBatches.WithLabelValues(ts.Target, "delayed").Set(float64(m.DelayedBatches))
		TargetBatches.WithLabelValues(ts.Target, "cancelled").Set(float64(m.CancelledBatches))

		TargetJobs.WithLabelValues(ts.Target, "active").Set(float64(m.ActiveJobs))
		TargetJobs.WithLabelValues(ts.Target, "total").Set(float64(m.TotalJobs))
		TargetJobs.WithLabelValues(ts.Target, "oom").Set(float64(m.OOMJobs))
		TargetJobs.WithLabelValues(ts.Target, "dropped").Set(float64(m.DroppedJobs))
		TargetJobs.WithLabelValues(ts.Target, "padded").Set(float64(m.PaddedJobs))
		TargetJobs.WithLabelValues(ts.Target, "stabilization").Set(float64(m.StabilizationJobs))
		TargetJobs.WithLabelValues(ts.Target, "security_failures").Set(float64(m.SecurityFailures))

		UpdateTarget(ts.Target, ts.Phase)

		TargetMoney.WithLabelValues(ts.Target).Set(m.Money)
		TargetSecurity.WithLabelValues(ts.Target).Set(m.Security)

		for _, p := range phases {
			v := 0.0
			if p == ts.Phase {
				v = 1
			}
			TargetPhase.WithLabelValues(ts.Target, string(p)).Set(v)
		}

		if ts.Analysis.Composition != "" {
			PlannerScore.WithLabelValues(ts.Target).Set(ts.Analysis.Score)
		}
	}
}
