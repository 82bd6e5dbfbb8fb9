package main

import (
	"errors"
	"log/slog"

	"github.com/greenpower/gpd-go/internal/proxysim"
	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/radio"
)

var errNoSimulation = errors.New("not running a simulation")

// simulatedChannel is the operating channel the simulated sink assigns.
const simulatedChannel = 15

// newSimulation attaches a sink to a loopback medium. The sink shares the
// device's configured key and hands out a fresh key wrapped under it.
func newSimulation(rec *device.Record, logger *slog.Logger) (radio.Radio, *proxysim.Sink, error) {
	medium := radio.NewLoopback()

	var issued device.Key
	if err := medium.Entropy(issued[:]); err != nil {
		return nil, nil, err
	}
	sink := proxysim.New(medium, proxysim.Options{
		Key:           rec.Key,
		Channel:       simulatedChannel,
		SecurityLevel: device.SecurityEncrypted,
		KeyType:       device.KeyTypeOutOfBand,
		NewKey:        &issued,
		WrapKey:       true,
		Logger:        logger.With("component", "sink"),
	})
	logger.Info("simulation mode", "sink_channel", simulatedChannel)
	return medium, sink, nil
}
