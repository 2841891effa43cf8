package storage

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/cadence/pkg/events"
	"github.com/cuemby/cadence/pkg/log"
)

// Recorder writes published snapshots and plans to a Store
type Recorder struct {
	store  Store
	broker *events.Broker
	runID  string

	// every keeps one snapshot out of every N received
	every int
	seen  int

	logger zerolog.Logger
	stopCh chan struct{}
	done   sync.WaitGroup
}

// NewRecorder creates a recorder that keeps one snapshot in every
func NewRecorder(store Store, broker *events.Broker, runID string, every int) *Recorder {
	if every < 1 {
		every = 1
	}
	return &Recorder{
		store:  store,
		broker: broker,
		runID:  runID,
		every:  every,
		logger: log.WithComponent("storage"),
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to the broker and begins recording
func (r *Recorder) Start() {
	sub := r.broker.Subscribe(events.EventSnapshot, events.EventReanalyzed)

	r.done.Add(1)
	go func() {
		defer r.done.Done()
		defer r.broker.Unsubscribe(sub)

		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				r.record(ev)
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop stops recording and waits for the current write to finish
func (r *Recorder) Stop() {
	close(r.stopCh)
	r.done.Wait()
}

func (r *Recorder) record(ev *events.Event) {
	switch ev.Type {
	case events.EventSnapshot:
		if ev.Snapshot == nil {
			return
		}
		r.seen++
		if (r.seen-1)%r.every != 0 {
			return
		}
		if err := r.store.SaveSnapshot(ev.Snapshot); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to record snapshot")
		}
	case events.EventReanalyzed:
		if ev.Analysis == nil {
			return
		}
		err := r.store.SaveAnalysis(&AnalysisRecord{
			RunID:    r.runID,
			Time:     ev.Timestamp,
			Target:   ev.Target,
			Analysis: *ev.Analysis,
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("target", ev.Target).Msg("Failed to record analysis")
		}
	}
}
