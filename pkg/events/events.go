package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/cadence/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventSnapshot      EventType = "scheduler.snapshot"
	EventPhaseChanged  EventType = "target.phase_changed"
	EventReanalyzed    EventType = "target.reanalyzed"
	EventBudgetChanged EventType = "target.budget_changed"
	EventBatchDelayed  EventType = "batch.delayed"
	EventJobDropped    EventType = "job.dropped"
	EventSchedulerExit EventType = "scheduler.exited"
)

const (
	brokerBuffer     = 256
	subscriberBuffer = 64
)

// Event is one scheduler notification
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Target    string
	Message   string
	Metadata  map[string]string

	// Snapshot is set for EventSnapshot
	Snapshot *types.Snapshot

	// Analysis is set for EventReanalyzed
	Analysis *types.AnalysisSummary
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans events out to subscribers without ever blocking publishers.
// Events that do not fit a buffer are dropped and counted.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]map[EventType]bool // nil filter: every type

	eventCh  chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewBroker creates a broker. Nothing is delivered until Start.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]map[EventType]bool),
		eventCh:     make(chan *Event, brokerBuffer),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop ends distribution. It is safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a channel receiving events of the given types, or of
// every type when none are given
func (b *Broker) Subscribe(kinds ...EventType) Subscriber {
	var filter map[EventType]bool
	if len(kinds) > 0 {
		filter = make(map[EventType]bool, len(kinds))
		for _, t := range kinds {
			filter[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberBuffer)
	b.subscribers[sub] = filter
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish queues an event for delivery and stamps its ID and time when
// unset. It returns false when the event was dropped because the broker is
// saturated or stopped.
func (b *Broker) Publish(event *Event) bool {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		return false
	default:
	}

	select {
	case b.eventCh <- event:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subscribers {
		if filter != nil && !filter[event.Type] {
			continue
		}
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were lost to full buffers
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
