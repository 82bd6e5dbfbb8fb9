package commissioning

import (
	"context"
	"fmt"

	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/security"
	"github.com/greenpower/gpd-go/pkg/wire"
)

// startCommissioning leaves NOT_COMMISSIONED. A unidirectional device
// stays there while application description frames are pending.
func (d *Device) startCommissioning(ctx context.Context) error {
	if !d.describing {
		if err := d.ensureKey(); err != nil {
			return err
		}
		d.resetProgress()
	}

	if !d.cfg.Bidirectional {
		complete, err := d.sendCommissioning(ctx, false)
		if err != nil || !complete {
			return err
		}
		return d.setState(device.StateOperational, "unidirectional commissioning sent")
	}

	if err := d.setState(device.StateChannelRequest, "commissioning started"); err != nil {
		return err
	}
	return d.stepChannelRequest(ctx)
}

// ensureKey draws a fresh key from the radio when the device is asked to
// generate one and holds none.
func (d *Device) ensureKey() error {
	if !d.cfg.GenerateKey || !d.rec.Key.IsZero() {
		return nil
	}
	var key device.Key
	if err := d.radio.Entropy(key[:]); err != nil {
		return d.radioError("entropy", err)
	}
	d.rec.Key = key
	if err := d.rekey(); err != nil {
		return err
	}
	d.logger.Info("generated device key")
	return d.persist()
}

func (d *Device) resetProgress() {
	d.sweepIndex = 0
	d.sweepRepeat = 0
	d.rxAttempts = 0
	d.commAttempts = 0
	d.commRounds = 0
	d.describing = false
}

// stepChannelRequest sends one channel request: first the sweep over every
// configured channel, then the receive channel with a window open.
func (d *Device) stepChannelRequest(ctx context.Context) error {
	rxChannel := d.cfg.RxChannel
	toggle := wire.ChannelRequest{Next: rxChannel, SecondNext: rxChannel}.Encode()

	if d.sweepIndex < len(d.cfg.Channels) {
		ch := d.cfg.Channels[d.sweepIndex]
		d.sweepRepeat++
		if d.sweepRepeat >= d.cfg.ChannelRequestRepeats {
			d.sweepRepeat = 0
			d.sweepIndex++
		}
		return d.sendMaintenance(ctx, ch, false, wire.CmdChannelRequest, toggle)
	}

	if d.rxAttempts >= d.cfg.RxChannelRetries {
		d.resetProgress()
		return d.setState(device.StateNotCommissioned, "no channel configuration")
	}
	d.rxAttempts++
	return d.sendMaintenance(ctx, rxChannel, true, wire.CmdChannelRequest, toggle)
}

// stepCommissioningRequest sends one commissioning frame and enforces the
// two level retry budget.
func (d *Device) stepCommissioningRequest(ctx context.Context) error {
	if !d.describing && d.commAttempts >= d.cfg.CommissioningRetries {
		d.commAttempts = 0
		d.commRounds++
		if d.commRounds >= d.cfg.CommissioningRounds {
			d.resetProgress()
			return d.setState(device.StateNotCommissioned, "no commissioning reply")
		}
		return d.setState(device.StateChannelReceived, "commissioning retries exhausted")
	}

	complete, err := d.sendCommissioning(ctx, true)
	if complete {
		d.commAttempts++
	}
	return err
}

// sendCommissioning sends the next frame of a commissioning request. It
// reports whether the request is complete, which is only not the case
// while application description frames are still pending.
func (d *Device) sendCommissioning(ctx context.Context, bidirectional bool) (bool, error) {
	if d.cfg.ApplicationDescription {
		if !d.describing {
			d.describing = true
			err := d.sendDataWith(ctx, device.SecurityNone, false, wire.CmdCommissioning,
				func() ([]byte, error) { return d.commissioningPayload(bidirectional, true) })
			return false, err
		}
		chunk, last := d.app.NextAppDescription()
		if last {
			d.describing = false
		}
		err := d.sendData(ctx, device.SecurityNone, last && bidirectional, wire.CmdApplicationDescription, chunk)
		return last, err
	}

	err := d.sendDataWith(ctx, device.SecurityNone, bidirectional, wire.CmdCommissioning,
		func() ([]byte, error) { return d.commissioningPayload(bidirectional, false) })
	return true, err
}

// commissioningPayload encodes the commissioning command for the counter
// of the frame carrying it.
func (d *Device) commissioningPayload(bidirectional, descriptionNext bool) ([]byte, error) {
	cfg := d.cfg
	c := &wire.Commissioning{
		DeviceID:         cfg.DeviceID,
		MACSeqCapability: cfg.MACSeqCapability,
		RxOnCapability:   bidirectional && cfg.RxAfterTx,
		PANIDRequest:     cfg.PANIDRequest,
		KeyRequest:       cfg.RequestKey,
		FixedLocation:    cfg.FixedLocation,
		SecurityLevel:    d.rec.SecurityLevel,
		KeyType:          d.rec.KeyType,
	}
	if cfg.OfferKey {
		if cfg.EncryptKey {
			c.Key = d.wrapper.WrapKey(d.rec.Key, d.rec.FrameCounter, security.FromDevice)
			c.KeyEncrypted = true
		} else {
			c.Key = append([]byte(nil), d.rec.Key[:]...)
		}
	}
	// A wrapped key is only usable by the sink with the counter it was
	// wrapped under.
	if d.rec.SecurityLevel.Secured() || c.KeyEncrypted {
		counter := d.rec.FrameCounter
		c.OutgoingCounter = &counter
	}
	if cfg.ApplicationInfo.Present() || descriptionNext {
		c.AppInfo = d.applicationInfo(descriptionNext)
	}
	return c.Encode()
}

func (d *Device) applicationInfo(descriptionNext bool) *wire.ApplicationInfo {
	ai := &d.cfg.ApplicationInfo
	out := &wire.ApplicationInfo{
		Commands:        ai.Commands,
		ServerClusters:  ai.ServerClusters,
		ClientClusters:  ai.ClientClusters,
		DescriptionNext: descriptionNext,
	}
	if ai.ManufacturerID != 0 {
		v := ai.ManufacturerID
		out.ManufacturerID = &v
	}
	if ai.ModelID != 0 {
		v := ai.ModelID
		out.ModelID = &v
	}
	if ai.SwitchInfo {
		out.Switch = &wire.SwitchInfo{Config: ai.SwitchConfig, ContactStatus: d.app.SwitchStatus()}
	}
	return out
}

func (d *Device) sendSuccess(ctx context.Context) error {
	return d.sendData(ctx, d.rec.SecurityLevel, false, wire.CmdSuccess, nil)
}

// stepOperational re-announces the pairing: success for a bidirectional
// device, the commissioning request for a unidirectional one.
func (d *Device) stepOperational(ctx context.Context) error {
	if d.cfg.Bidirectional {
		return d.sendSuccess(ctx)
	}
	_, err := d.sendCommissioning(ctx, false)
	return err
}

// SendCommand transmits an application command at the record's security
// level. With a receive window the device waits for a reply in
// OPERATIONAL_COMMAND_REQUEST until the next Step.
func (d *Device) SendCommand(ctx context.Context, cmd uint8, payload []byte) error {
	if !d.rec.State.Commissioned() {
		return ErrNotCommissioned
	}
	if err := d.drain(); err != nil {
		return err
	}
	rx := d.cfg.Bidirectional && d.rec.Radio.RxAfterTx
	if err := d.sendData(ctx, d.rec.SecurityLevel, rx, cmd, payload); err != nil {
		return err
	}
	if rx {
		return d.setState(device.StateOperationalCommandRequest, fmt.Sprintf("sent %s", wire.CommandName(cmd)))
	}
	return nil
}

// Decommission announces the device leaving and resets the record to its
// configured defaults. The frame counter is kept. On a radio failure the
// record is left untouched so the call can be retried.
func (d *Device) Decommission(ctx context.Context) error {
	if err := d.sendData(ctx, device.SecurityNone, false, wire.CmdDecommissioning, nil); err != nil {
		return err
	}
	if d.listening {
		d.listening = false
		if err := d.radio.Idle(); err != nil {
			return d.radioError("idle", err)
		}
	}

	old := d.rec.State
	d.rec.ResetToDefaults()
	d.applyIdentity()
	if err := d.rekey(); err != nil {
		return err
	}
	d.resetProgress()
	for len(d.inbox) > 0 {
		<-d.inbox
	}
	d.rec.State = old
	return d.setState(device.StateNotCommissioned, "decommissioned")
}
