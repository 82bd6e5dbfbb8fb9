package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenpower/gpd-go/pkg/commissioning"
	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/persistence"
)

func TestSimulationCommissions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := device.DefaultConfig()
	cfg.Channels = []uint8{11, 15}
	rec, err := device.NewRecord(cfg)
	require.NoError(t, err)

	rdo, sink, err := newSimulation(rec, logger)
	require.NoError(t, err)
	dev, err := commissioning.New(commissioning.Options{
		Record: rec,
		Store:  persistence.NewAdapter(&persistence.MemoryStore{}),
		Radio:  rdo,
		Logger: logger,
	})
	require.NoError(t, err)
	r := newRunner(dev, nil, sink, logger)

	ctx := context.Background()
	for i := 0; i < 20 && r.Status().State != device.StateOperational; i++ {
		require.NoError(t, r.Step(ctx))
	}
	assert.Equal(t, device.StateOperational, r.Status().State)
	assert.Equal(t, uint8(simulatedChannel), r.Status().Channel)
	assert.Equal(t, sink.Key(), rec.Key)

	require.NoError(t, r.SinkSend(0x40, nil))
	require.NoError(t, r.Send(ctx, 0x20, nil))
	require.NoError(t, r.Step(ctx))
	assert.Len(t, sink.Commands(), 1)

	require.NoError(t, r.Decommission(ctx))
	assert.True(t, sink.Decommissioned())
	assert.Equal(t, device.StateNotCommissioned, r.Status().State)
}

func TestSinkSendWithoutSimulation(t *testing.T) {
	r := newRunner(nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, r.SinkSend(0x40, nil), errNoSimulation)
}

func TestStatusWhileLooping(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec, err := device.NewRecord(device.DefaultConfig())
	require.NoError(t, err)
	rdo, sink, err := newSimulation(rec, logger)
	require.NoError(t, err)
	dev, err := commissioning.New(commissioning.Options{
		Record: rec,
		Store:  persistence.NewAdapter(&persistence.MemoryStore{}),
		Radio:  rdo,
		Logger: logger,
	})
	require.NoError(t, err)
	r := newRunner(dev, nil, sink, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Loop(ctx, time.Millisecond)
		close(done)
	}()

	var last uint32
	for i := 0; i < 50; i++ {
		st := r.Status()
		assert.GreaterOrEqual(t, st.FrameCounter, last)
		last = st.FrameCounter
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}
