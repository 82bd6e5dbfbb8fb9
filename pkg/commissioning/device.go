package commissioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/log"
	"github.com/greenpower/gpd-go/pkg/persistence"
	"github.com/greenpower/gpd-go/pkg/radio"
	"github.com/greenpower/gpd-go/pkg/security"
)

// DefaultInboxSize is the number of inbound frames buffered between steps.
const DefaultInboxSize = 4

// Device errors.
var (
	ErrNotCommissioned  = errors.New("device not commissioned")
	ErrRadio            = errors.New("radio failure")
	ErrPersist          = errors.New("persisting device state failed")
	ErrMissingOption    = errors.New("missing required option")
	ErrCounterExhausted = errors.New("frame counter exhausted")
)

// Options configures a Device.
type Options struct {
	// Record is the device record. It is overlaid with the persisted state
	// when the Device is created.
	Record *device.Record

	// Store persists the record. Required.
	Store *persistence.Adapter

	// Radio is the transceiver. Required.
	Radio radio.Radio

	// Application receives callbacks. Defaults to NopApplication.
	Application Application

	// ProtocolLogger captures frames and state changes. Optional.
	ProtocolLogger log.Logger

	// SessionID tags captured events. Generated when empty.
	SessionID string

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger

	// InboxSize bounds the number of queued inbound frames.
	InboxSize int
}

// Device is the commissioning state machine of one GPD.
type Device struct {
	rec     *device.Record
	cfg     *device.Config
	store   *persistence.Adapter
	radio   radio.Radio
	app     Application
	plog    log.Logger
	session string
	logger  *slog.Logger
	engine  *security.Engine
	// wrapper protects offered keys. With key generation it stays keyed
	// with the configured shared key the sink already holds.
	wrapper *security.Engine

	inbox chan []byte

	// Bidirectional channel phase.
	sweepIndex  int
	sweepRepeat int
	rxAttempts  int

	// Commissioning request phase.
	commAttempts int
	commRounds   int
	describing   bool

	// Replay protection for secured inbound frames.
	lastRxCounter uint32
	rxCounterSeen bool

	listening bool
}

// New creates a Device, restoring the persisted state into the record.
func New(opts Options) (*Device, error) {
	switch {
	case opts.Record == nil:
		return nil, fmt.Errorf("%w: record", ErrMissingOption)
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingOption)
	case opts.Radio == nil:
		return nil, fmt.Errorf("%w: radio", ErrMissingOption)
	}

	d := &Device{
		rec:     opts.Record,
		cfg:     opts.Record.Config(),
		store:   opts.Store,
		radio:   opts.Radio,
		app:     opts.Application,
		plog:    opts.ProtocolLogger,
		session: opts.SessionID,
		logger:  opts.Logger,
	}
	if d.app == nil {
		d.app = NopApplication{}
	}
	if d.plog == nil {
		d.plog = log.NoopLogger{}
	}
	if d.session == "" {
		d.session = log.NewSessionID()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	size := opts.InboxSize
	if size <= 0 {
		size = DefaultInboxSize
	}
	d.inbox = make(chan []byte, size)

	d.applyIdentity()
	if err := d.store.Restore(d.rec); err != nil {
		return nil, fmt.Errorf("restore device state: %w", err)
	}
	if err := d.rekey(); err != nil {
		return nil, err
	}
	d.radio.SetHandler(func(buf []byte) { d.Deliver(buf) })

	d.logger.Info("device ready",
		"address", d.rec.Address.String(),
		"state", d.rec.State.String(),
		"frame_counter", d.rec.FrameCounter,
		"channel", d.rec.Radio.Channel)
	return d, nil
}

// Record returns the device record. It must only be read from the
// goroutine calling Step.
func (d *Device) Record() *device.Record {
	return d.rec
}

// State returns the current commissioning state.
func (d *Device) State() device.State {
	return d.rec.State
}

// SessionID returns the protocol capture session.
func (d *Device) SessionID() string {
	return d.session
}

// Deliver queues an inbound frame for the next Step. It never blocks and
// reports false when the inbox is full and the frame was discarded.
func (d *Device) Deliver(buf []byte) bool {
	frame := append([]byte(nil), buf...)
	select {
	case d.inbox <- frame:
		return true
	default:
		d.logger.Debug("inbox full, frame discarded", "size", len(buf))
		return false
	}
}

// Step applies queued inbound frames and then performs one unit of work for
// the current state.
func (d *Device) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.drain(); err != nil {
		return err
	}
	if d.listening {
		d.listening = false
		if err := d.radio.Idle(); err != nil {
			return d.radioError("idle", err)
		}
	}

	switch d.rec.State {
	case device.StateNotCommissioned:
		return d.startCommissioning(ctx)
	case device.StateChannelRequest:
		return d.stepChannelRequest(ctx)
	case device.StateChannelReceived:
		d.commAttempts = 0
		d.describing = false
		if err := d.setState(device.StateCommissioningRequest, "channel received"); err != nil {
			return err
		}
		return d.stepCommissioningRequest(ctx)
	case device.StateCommissioningRequest:
		return d.stepCommissioningRequest(ctx)
	case device.StateCommissioningReplyReceived:
		if err := d.sendSuccess(ctx); err != nil {
			return err
		}
		return d.setState(device.StateCommissioningSuccessRequest, "success sent")
	case device.StateCommissioningSuccessRequest:
		if err := d.sendSuccess(ctx); err != nil {
			return err
		}
		return d.setState(device.StateOperational, "commissioned")
	case device.StateOperational:
		return d.stepOperational(ctx)
	case device.StateOperationalCommandRequest, device.StateOperationalCommandReceived:
		return d.setState(device.StateOperational, "command window closed")
	default:
		return fmt.Errorf("unknown state %d", d.rec.State)
	}
}

// Status is a snapshot of the device for display.
type Status struct {
	Address       string
	State         device.State
	Channel       uint8
	FrameCounter  uint32
	SecurityLevel device.SecurityLevel
	KeyType       device.KeyType
	Queued        int
	Timestamp     time.Time
}

// Status returns a snapshot of the record.
func (d *Device) Status() Status {
	return Status{
		Address:       d.rec.Address.String(),
		State:         d.rec.State,
		Channel:       d.rec.Radio.Channel,
		FrameCounter:  d.rec.FrameCounter,
		SecurityLevel: d.rec.SecurityLevel,
		KeyType:       d.rec.KeyType,
		Queued:        len(d.inbox),
		Timestamp:     time.Now(),
	}
}

// applyIdentity lets the application override the configured long address.
func (d *Device) applyIdentity() {
	if d.rec.Address.AppID != device.AppIDIEEE {
		return
	}
	if ieee, ep, ok := d.app.Identity(); ok {
		d.rec.Address.IEEE = ieee
		d.rec.Address.Endpoint = ep
	}
}

// rekey rebuilds the security engine after the key or address changed.
func (d *Device) rekey() error {
	eng, err := security.ForRecord(d.rec)
	if err != nil {
		return fmt.Errorf("security engine: %w", err)
	}
	d.engine = eng
	d.wrapper = eng
	if d.cfg.GenerateKey {
		shared, err := d.cfg.ResolveKey()
		if err != nil {
			return err
		}
		if d.wrapper, err = security.New(shared, d.rec.Address); err != nil {
			return fmt.Errorf("security engine: %w", err)
		}
	}
	d.rxCounterSeen = false
	d.lastRxCounter = 0
	return nil
}

func (d *Device) persist() error {
	if err := d.store.Persist(d.rec); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// setState records a transition and persists it.
func (d *Device) setState(s device.State, reason string) error {
	old := d.rec.State
	d.rec.State = s
	if old != s {
		d.logger.Info("state change", "from", old.String(), "to", s.String(), "reason", reason)
		d.plog.Log(log.Event{
			Timestamp: time.Now(),
			SessionID: d.session,
			Layer:     log.LayerDevice,
			Category:  log.CategoryState,
			Device:    d.rec.Address.String(),
			StateChange: &log.StateChangeEvent{
				OldState: old.String(),
				NewState: s.String(),
				Reason:   reason,
			},
		})
	}
	return d.persist()
}

func (d *Device) radioError(op string, err error) error {
	d.logger.Warn("radio operation failed", "op", op, "error", err)
	d.plog.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: d.session,
		Layer:     log.LayerRadio,
		Category:  log.CategoryError,
		Device:    d.rec.Address.String(),
		Error:     &log.ErrorEventData{Layer: log.LayerRadio, Message: err.Error(), Context: op},
	})
	return fmt.Errorf("%w: %s: %w", ErrRadio, op, err)
}
