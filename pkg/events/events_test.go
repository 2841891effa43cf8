package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cadence/pkg/types"
)

func TestPublishFansOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	snap := &types.Snapshot{RunID: "run-1"}
	require.True(t, b.Publish(&Event{Type: EventSnapshot, Snapshot: snap}))

	for _, sub := range []Subscriber{first, second} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventSnapshot, ev.Type)
			assert.Equal(t, "run-1", ev.Snapshot.RunID)
			assert.NotEmpty(t, ev.ID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()

	b.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
	assert.Zero(t, b.SubscriberCount())

	// second unsubscribe is a no-op
	b.Unsubscribe(sub)
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()

	// not started: the buffer fills and further events are dropped
	accepted := 0
	for i := 0; i < 1000; i++ {
		if b.Publish(&Event{Type: EventJobDropped}) {
			accepted++
		}
	}
	assert.Equal(t, cap(b.eventCh), accepted)

	b.Stop()
	b.Stop()
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	fast := b.Subscribe()

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range fast {
			received++
			if received == 100 {
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		b.Publish(&Event{Type: EventSnapshot, Target: "t"})
		time.Sleep(time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber stalled")
	}
	assert.Equal(t, cap(slow), len(slow))
}

func TestSubscribeFiltersTypes(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	snapshots := b.Subscribe(EventSnapshot, EventReanalyzed)
	all := b.Subscribe()

	b.Publish(&Event{Type: EventJobDropped, Target: "t"})
	b.Publish(&Event{Type: EventSnapshot, Target: "t"})

	select {
	case ev := <-snapshots:
		assert.Equal(t, EventSnapshot, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("snapshot not delivered")
	}

	for _, want := range []EventType{EventJobDropped, EventSnapshot} {
		select {
		case ev := <-all:
			assert.Equal(t, want, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("%s not delivered", want)
		}
	}
	assert.Empty(t, snapshots)
}

func TestDroppedCountsLostDeliveries(t *testing.T) {
	b := NewBroker()
	for i := 0; i < brokerBuffer+10; i++ {
		b.Publish(&Event{Type: EventSnapshot})
	}
	assert.Equal(t, uint64(10), b.Dropped())

	b.Stop()
	assert.False(t, b.Publish(&Event{Type: EventSnapshot}))
	assert.Equal(t, uint64(10), b.Dropped())
}
