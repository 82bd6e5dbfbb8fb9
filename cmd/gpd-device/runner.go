package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/greenpower/gpd-go/internal/proxysim"
	"github.com/greenpower/gpd-go/pkg/bridge"
	"github.com/greenpower/gpd-go/pkg/commissioning"
)

// runner serializes access to the device between the step loop and the
// console.
type runner struct {
	mu     sync.Mutex
	dev    *commissioning.Device
	bridge *bridge.Bridge
	sink   *proxysim.Sink
	logger *slog.Logger
}

func newRunner(dev *commissioning.Device, br *bridge.Bridge, sink *proxysim.Sink, logger *slog.Logger) *runner {
	return &runner{dev: dev, bridge: br, sink: sink, logger: logger}
}

// Step runs one step and publishes the status when the state changed.
func (r *runner) Step(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.dev.State()
	err := r.dev.Step(ctx)
	if err != nil {
		r.logger.Warn("step failed", "state", r.dev.State().String(), "error", err)
	}
	if r.bridge != nil && r.dev.State() != before {
		r.bridge.PublishStatus(r.dev.Status())
	}
	return err
}

// Loop steps the device every interval until ctx is done. Step errors are
// logged and the loop carries on; the state machine retries on its own.
func (r *runner) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Step(ctx)
		}
	}
}

func (r *runner) Status() commissioning.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev.Status()
}

func (r *runner) Send(ctx context.Context, cmd uint8, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev.SendCommand(ctx, cmd, payload)
}

func (r *runner) Decommission(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.dev.Decommission(ctx)
	if err == nil && r.bridge != nil {
		r.bridge.PublishStatus(r.dev.Status())
	}
	return err
}

// SinkSend queues a command from the simulated sink.
func (r *runner) SinkSend(cmd uint8, payload []byte) error {
	if r.sink == nil {
		return errNoSimulation
	}
	return r.sink.Send(cmd, payload)
}
