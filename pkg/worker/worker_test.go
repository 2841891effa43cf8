package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cadence/pkg/protocol"
	"github.com/cuemby/cadence/pkg/types"
)

type applied struct {
	target  string
	kind    types.OperationKind
	threads int
	cores   int
}

type fakeEffector struct {
	mu       sync.Mutex
	duration time.Duration
	applied  []applied
}

func (f *fakeEffector) Duration(target string, kind types.OperationKind) time.Duration {
	return f.duration
}

func (f *fakeEffector) Apply(target string, kind types.OperationKind, threads, cores int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, applied{target: target, kind: kind, threads: threads, cores: cores})
}

func (f *fakeEffector) calls() []applied {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]applied(nil), f.applied...)
}

var testCosts = types.Costs{Grow: 2, Weaken: 2, Hack: 1}

func newTestPool(effector Effector) *LocalPool {
	return NewLocalPool([]Host{
		{Name: "home", MaxMemory: 32, Cores: 4, Primary: true},
		{Name: "pserv-0", MaxMemory: 64},
	}, testCosts, effector)
}

func receive(t *testing.T, ch chan []byte) protocol.Message {
	t.Helper()

	select {
	case data := <-ch:
		msg, err := protocol.Unmarshal(data)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return nil
	}
}

func TestListWorkers(t *testing.T) {
	p := newTestPool(&fakeEffector{})
	defer p.Close()

	workers, err := p.ListWorkers(context.Background())
	require.NoError(t, err)
	require.Len(t, workers, 2)

	assert.Equal(t, "home", workers[0].Host)
	assert.True(t, workers[0].Primary)
	assert.Equal(t, 4, workers[0].Cores)
	assert.Equal(t, "pserv-0", workers[1].Host)
	assert.Equal(t, 1, workers[1].Cores)
	assert.Equal(t, 64.0, workers[1].FreeMemory)
}

func TestDispatchLifecycle(t *testing.T) {
	effector := &fakeEffector{duration: 10 * time.Millisecond}
	p := newTestPool(effector)
	defer p.Close()

	ch := protocol.NewChannels(8)
	plannedEnd := time.Now().Add(50 * time.Millisecond)

	handle, err := p.Dispatch(context.Background(), DispatchRequest{
		OpID:       42,
		Kind:       types.OperationGrow,
		Threads:    8,
		Host:       "home",
		Target:     "joesguns",
		PlannedEnd: plannedEnd,
		Duration:   10 * time.Millisecond,
		Channels:   ch,
	})
	require.NoError(t, err)
	assert.Equal(t, "home", handle.Host)

	workers, err := p.ListWorkers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 16.0, workers[0].FreeMemory)

	started, ok := receive(t, ch.Start).(protocol.Started)
	require.True(t, ok)
	assert.Equal(t, int64(42), started.ID)
	assert.Greater(t, started.AppliedDelay, time.Duration(0))
	assert.LessOrEqual(t, started.AppliedDelay, 40*time.Millisecond)

	finished, ok := receive(t, ch.Finish).(protocol.Finished)
	require.True(t, ok)
	assert.Equal(t, int64(42), finished.ID)
	assert.False(t, finished.FinishedAt.Before(plannedEnd))

	calls := effector.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, applied{target: "joesguns", kind: types.OperationGrow, threads: 8, cores: 4}, calls[0])

	// memory is held until the barrier is released
	assert.Equal(t, 1, p.Running())
	ch.Barrier <- struct{}{}

	require.Eventually(t, func() bool { return p.Running() == 0 }, 2*time.Second, 5*time.Millisecond)
	workers, err = p.ListWorkers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32.0, workers[0].FreeMemory)
}

func TestDispatchSkipDoesNotApply(t *testing.T) {
	effector := &fakeEffector{duration: time.Millisecond}
	p := newTestPool(effector)
	defer p.Close()

	ch := protocol.NewChannels(8)
	_, err := p.Dispatch(context.Background(), DispatchRequest{
		OpID:       1,
		Kind:       types.OperationHack,
		Threads:    1,
		Host:       "pserv-0",
		PlannedEnd: time.Now(),
		Duration:   time.Millisecond,
		Skip:       true,
		Channels:   ch,
	})
	require.NoError(t, err)

	started := receive(t, ch.Start).(protocol.Started)
	assert.Equal(t, time.Duration(0), started.AppliedDelay)
	receive(t, ch.Finish)
	ch.Barrier <- struct{}{}

	require.Eventually(t, func() bool { return p.Running() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, effector.calls())
}

func TestDispatchErrors(t *testing.T) {
	p := newTestPool(&fakeEffector{})
	defer p.Close()

	tests := []struct {
		name    string
		req     DispatchRequest
		wantErr error
	}{
		{
			name:    "unknown host",
			req:     DispatchRequest{Host: "nowhere", Kind: types.OperationHack, Threads: 1, Channels: protocol.NewChannels(1)},
			wantErr: ErrUnknownHost,
		},
		{
			name:    "too large",
			req:     DispatchRequest{Host: "home", Kind: types.OperationWeaken, Threads: 17, Channels: protocol.NewChannels(1)},
			wantErr: ErrInsufficientMemory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Dispatch(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := p.Dispatch(context.Background(), DispatchRequest{Host: "home", Kind: types.OperationHack, Threads: 1})
	assert.Error(t, err)
	assert.Zero(t, p.Running())
}

func TestCancelReleasesMemory(t *testing.T) {
	p := newTestPool(&fakeEffector{duration: time.Hour})
	defer p.Close()

	ch := protocol.NewChannels(8)
	handle, err := p.Dispatch(context.Background(), DispatchRequest{
		OpID:       7,
		Kind:       types.OperationWeaken,
		Threads:    4,
		Host:       "pserv-0",
		PlannedEnd: time.Now().Add(time.Hour),
		Duration:   time.Hour,
		Channels:   ch,
	})
	require.NoError(t, err)
	receive(t, ch.Start)

	handle.Cancel()
	require.Eventually(t, func() bool { return p.Running() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, ch.Finish)
}

func TestSubset(t *testing.T) {
	p := newTestPool(&fakeEffector{})
	defer p.Close()

	s := Subset(p, []string{"pserv-0"})

	workers, err := s.ListWorkers(context.Background())
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "pserv-0", workers[0].Host)

	_, err = s.Dispatch(context.Background(), DispatchRequest{Host: "home", Channels: protocol.NewChannels(1)})
	assert.ErrorIs(t, err, ErrUnknownHost)

	assert.ErrorIs(t, s.Sync(context.Background(), "home"), ErrUnknownHost)
	require.NoError(t, s.Sync(context.Background(), "pserv-0"))
	assert.True(t, p.Synced("pserv-0"))
	assert.False(t, p.Synced("home"))
}

func TestHostMemory(t *testing.T) {
	free, err := HostMemory(context.Background())
	require.NoError(t, err)
	assert.Greater(t, free, 0.0)
}
