package commissioning

import (
	"context"
	"math"
	"time"

	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/log"
	"github.com/greenpower/gpd-go/pkg/wire"
)

// advanceCounter moves the frame counter forward and persists it. The
// counter must be on stable storage before it is used on the air, and it
// never wraps under the same key.
func (d *Device) advanceCounter(maintenance bool) error {
	step := uint32(1)
	if maintenance && uint8(d.rec.FrameCounter+1) == 0 {
		step = 2
	}
	if d.rec.FrameCounter > math.MaxUint32-step {
		d.logger.Error("frame counter exhausted, refusing to transmit",
			"frame_counter", d.rec.FrameCounter)
		return ErrCounterExhausted
	}
	for i := uint32(0); i < step; i++ {
		d.rec.NextFrameCounter()
	}
	return d.persist()
}

// sendData transmits a data frame on the operating channel.
func (d *Device) sendData(ctx context.Context, level device.SecurityLevel, rxAfterTx bool, cmd uint8, payload []byte) error {
	return d.sendDataWith(ctx, level, rxAfterTx, cmd, func() ([]byte, error) { return payload, nil })
}

// sendDataWith builds the payload after the counter advanced so it can
// refer to the counter value of its own frame.
func (d *Device) sendDataWith(ctx context.Context, level device.SecurityLevel, rxAfterTx bool, cmd uint8, build func() ([]byte, error)) error {
	if err := d.advanceCounter(false); err != nil {
		return err
	}
	payload, err := build()
	if err != nil {
		return err
	}
	opts := wire.DataOptions{SecurityLevel: level, RxAfterTx: rxAfterTx}
	buf, err := wire.EncodeData(d.rec, d.engine, opts, cmd, payload)
	if err != nil {
		return err
	}
	if cmd == wire.CmdSuccess {
		rxAfterTx = false
	}
	d.captureOut(wire.FrameData, level, rxAfterTx, cmd, payload, d.rec.Radio.Channel)
	return d.transmit(ctx, buf, d.rec.Radio.Channel, rxAfterTx)
}

// sendMaintenance transmits an unsecured maintenance frame on channel.
func (d *Device) sendMaintenance(ctx context.Context, channel uint8, rxAfterTx bool, cmd uint8, payload []byte) error {
	if err := d.advanceCounter(true); err != nil {
		return err
	}
	buf, err := wire.EncodeMaintenance(d.rec, rxAfterTx, cmd, payload)
	if err != nil {
		return err
	}
	d.captureOut(wire.FrameMaintenance, device.SecurityNone, rxAfterTx, cmd, payload, channel)
	return d.transmit(ctx, buf, channel, rxAfterTx)
}

// transmit hands buf to the radio and optionally opens a receive window on
// the same channel.
func (d *Device) transmit(ctx context.Context, buf []byte, channel uint8, rxWindow bool) error {
	if err := d.radio.WriteFrame(buf); err != nil {
		return d.radioError("write frame", err)
	}
	if err := d.radio.StartTransmit(ctx, d.rec.Radio.SkipCCA, channel); err != nil {
		return d.radioError("transmit", err)
	}
	d.plog.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: d.session,
		Direction: log.DirectionOut,
		Layer:     log.LayerRadio,
		Category:  log.CategoryMessage,
		Device:    d.rec.Address.String(),
		Channel:   channel,
		Frame:     &log.FrameEvent{Size: len(buf), Data: buf},
	})
	if rxWindow {
		if err := d.radio.StartReceive(channel); err != nil {
			return d.radioError("start receive", err)
		}
		d.listening = true
	}
	return nil
}

func (d *Device) captureOut(ft wire.FrameType, level device.SecurityLevel, rx bool, cmd uint8, payload []byte, channel uint8) {
	d.logger.Debug("sending frame",
		"command", wire.CommandName(cmd),
		"channel", channel,
		"frame_counter", d.rec.FrameCounter,
		"rx_after_tx", rx)

	ev := &log.CommandEvent{
		FrameType: uint8(ft),
		Command:   cmd,
		Name:      wire.CommandName(cmd),
		Sequence:  d.rec.SequenceNumber(),
		RxAfterTx: rx,
		Payload:   payload,
	}
	if level.Secured() {
		ev.SecurityLevel = uint8(level)
		ev.FrameCounter = d.rec.FrameCounter
	}
	d.plog.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: d.session,
		Direction: log.DirectionOut,
		Layer:     log.LayerFrame,
		Category:  log.CategoryMessage,
		Device:    d.rec.Address.String(),
		Channel:   channel,
		Command:   ev,
	})
}
