package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cadence/pkg/config"
	"github.com/cuemby/cadence/pkg/coordinator"
)

func TestTargetSpecs(t *testing.T) {
	budget := 0.5
	cfg := config.Default()
	cfg.Targets = []config.TargetConfig{
		{Name: "joesguns", MaxMoney: 1, MinHacks: 3},
		{Name: "foodnstuff", MaxMoney: 1, Budget: &budget},
	}

	specs, err := targetSpecs(cfg, nil)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "joesguns", specs[0].Name)
	assert.Equal(t, 1.0, specs[0].Budget)
	assert.Equal(t, 3, specs[0].MinHacks)
	assert.Equal(t, 0.5, specs[1].Budget)

	specs, err = targetSpecs(cfg, []string{"foodnstuff"})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "foodnstuff", specs[0].Name)

	_, err = targetSpecs(cfg, []string{"n00dles"})
	assert.ErrorIs(t, err, coordinator.ErrUnknownTarget)

	_, err = targetSpecs(config.Default(), nil)
	assert.Error(t, err)
}

func TestReadControlSkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`not json`,
		`{"type":"reboot","body":{}}`,
		`{"type":"started","body":{"id":1}}`,
		``,
	}, "\n")

	coord := coordinator.New(coordinator.Options{}, nil, nil, nil)
	done := make(chan struct{})
	go func() {
		readControl(context.Background(), strings.NewReader(input), coord)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readControl did not return at end of input")
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123abcd", shortID("0123abcd-4567"))
	assert.Equal(t, "run", shortID("run"))
}
