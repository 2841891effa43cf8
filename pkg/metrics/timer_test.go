package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestMultipleTimers(t *testing.T) {
	outer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	inner := NewTimer()
	time.Sleep(10 * time.Millisecond)

	assert.Greater(t, outer.Duration(), inner.Duration())
}

func TestTimerObserve(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_tick_seconds",
		Help: "Test histogram",
	})
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_reanalysis_seconds",
		Help: "Test histogram vec",
	}, []string{"target"})

	timer := NewTimer()
	timer.ObserveDuration(histogram)
	timer.ObserveDurationVec(vec, "joesguns")

	reg := prometheus.NewRegistry()
	reg.MustRegister(histogram, vec)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 2)
	for _, mf := range families {
		require.Len(t, mf.GetMetric(), 1)
		assert.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
	}
}
