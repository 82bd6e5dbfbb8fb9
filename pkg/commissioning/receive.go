package commissioning

import (
	"errors"
	"time"

	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/log"
	"github.com/greenpower/gpd-go/pkg/security"
	"github.com/greenpower/gpd-go/pkg/wire"
)

// drain applies every queued inbound frame.
func (d *Device) drain() error {
	for {
		select {
		case buf := <-d.inbox:
			if err := d.handleFrame(buf); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// handleFrame decodes and applies one inbound frame. Frames the device must
// ignore are recorded and dropped; only persistence failures are returned.
func (d *Device) handleFrame(buf []byte) error {
	d.plog.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: d.session,
		Direction: log.DirectionIn,
		Layer:     log.LayerRadio,
		Category:  log.CategoryMessage,
		Device:    d.rec.Address.String(),
		Frame:     &log.FrameEvent{Size: len(buf), Data: buf},
	})

	f, err := wire.Decode(d.rec, d.engine, buf)
	if err != nil {
		d.drop(err.Error(), errors.Is(err, security.ErrAuthFailed))
		return nil
	}
	if f.SecurityLevel.Secured() {
		if d.rxCounterSeen && f.FrameCounter <= d.lastRxCounter {
			d.drop("replayed frame counter", false)
			return nil
		}
	}
	d.captureIn(f)

	switch {
	case f.Type == wire.FrameMaintenance && f.Command == wire.CmdChannelConfiguration:
		return d.onChannelConfiguration(f)
	case f.Type == wire.FrameData && f.Command == wire.CmdCommissioningReply:
		return d.onCommissioningReply(f)
	case f.Type == wire.FrameData && d.rec.State.Commissioned():
		if f.SecurityLevel < d.rec.SecurityLevel {
			d.drop("security level below "+d.rec.SecurityLevel.String(), false)
			return nil
		}
		d.acceptCounter(f)
		d.app.HandleCommand(f.Command, f.Payload)
		if d.rec.State == device.StateOperationalCommandRequest {
			return d.setState(device.StateOperationalCommandReceived, wire.CommandName(f.Command))
		}
		return nil
	default:
		d.drop("unexpected "+wire.CommandName(f.Command)+" in "+d.rec.State.String(), false)
		return nil
	}
}

// acceptCounter raises the replay watermark once a secured frame is
// delivered.
func (d *Device) acceptCounter(f *wire.Frame) {
	if !f.SecurityLevel.Secured() {
		return
	}
	d.rxCounterSeen = true
	d.lastRxCounter = f.FrameCounter
}

func (d *Device) onChannelConfiguration(f *wire.Frame) error {
	if d.rec.State != device.StateChannelRequest {
		d.drop("channel configuration outside channel request", false)
		return nil
	}
	cfg, err := wire.DecodeChannelConfiguration(f.Payload)
	if err != nil {
		d.drop(err.Error(), false)
		return nil
	}
	d.rec.Radio.Channel = cfg.Channel
	d.commAttempts = 0
	d.commRounds = 0
	if err := d.setState(device.StateChannelReceived, "channel configuration"); err != nil {
		return err
	}
	d.app.ChannelReceived(cfg.Channel)
	return nil
}

// onCommissioningReply installs the security material of a reply. A reply
// whose key fails to unwrap aborts the attempt without a state change.
func (d *Device) onCommissioningReply(f *wire.Frame) error {
	if d.rec.State != device.StateCommissioningRequest {
		d.drop("commissioning reply outside commissioning request", false)
		return nil
	}
	reply, err := wire.DecodeCommissioningReply(f.Payload)
	if err != nil {
		d.drop(err.Error(), false)
		return nil
	}
	if !reply.SecurityLevel.Valid() || !reply.KeyType.Valid() {
		d.drop("commissioning reply with invalid security parameters", false)
		return nil
	}

	key := d.rec.Key
	if reply.Key != nil {
		if reply.KeyEncrypted {
			key, err = d.wrapper.UnwrapKey(reply.Key, reply.FrameCounter, security.ToDevice)
			if err != nil {
				d.logger.Warn("commissioning reply key unwrap failed", "error", err)
				d.drop("key unwrap: "+err.Error(), true)
				return nil
			}
		} else {
			copy(key[:], reply.Key)
		}
	}

	d.rec.SecurityLevel = reply.SecurityLevel
	d.rec.KeyType = reply.KeyType
	d.rec.Key = key
	if err := d.rekey(); err != nil {
		return err
	}
	d.describing = false
	if err := d.setState(device.StateCommissioningReplyReceived, "commissioning reply"); err != nil {
		return err
	}
	d.app.CommissioningReplyReceived(reply)
	return nil
}

func (d *Device) drop(reason string, auth bool) {
	d.logger.Debug("frame dropped", "reason", reason)
	d.plog.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: d.session,
		Direction: log.DirectionIn,
		Layer:     log.LayerFrame,
		Category:  log.CategoryDrop,
		Device:    d.rec.Address.String(),
		Drop:      &log.DropEvent{Reason: reason, AuthFailure: auth},
	})
}

func (d *Device) captureIn(f *wire.Frame) {
	ev := &log.CommandEvent{
		FrameType: uint8(f.Type),
		Command:   f.Command,
		Name:      wire.CommandName(f.Command),
		Sequence:  f.Sequence,
		RxAfterTx: f.RxAfterTx,
		Payload:   f.Payload,
	}
	if f.SecurityLevel.Secured() {
		ev.SecurityLevel = uint8(f.SecurityLevel)
		ev.FrameCounter = f.FrameCounter
	}
	d.plog.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: d.session,
		Direction: log.DirectionIn,
		Layer:     log.LayerFrame,
		Category:  log.CategoryMessage,
		Device:    d.rec.Address.String(),
		Command:   ev,
	})
}
