// Package proxysim simulates the Proxy/Sink side of Green Power
// commissioning on a radio.Loopback medium. It answers channel requests and
// commissioning requests that open a receive window, and records everything
// the device sent.
package proxysim

import (
	"log/slog"
	"sync"

	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/radio"
	"github.com/greenpower/gpd-go/pkg/security"
	"github.com/greenpower/gpd-go/pkg/wire"
)

// Options configures the simulated sink.
type Options struct {
	// Key is the key the sink shares with the device before commissioning.
	Key device.Key

	// Channel is the operating channel assigned in channel configurations.
	Channel uint8

	// Reply parameters.
	SecurityLevel device.SecurityLevel
	KeyType       device.KeyType
	NewKey        *device.Key
	WrapKey       bool
	PANID         *uint16

	// Silence suppresses answers to channel requests or commissioning.
	IgnoreChannelRequests bool
	IgnoreCommissioning   bool

	Logger *slog.Logger
}

// Request is a commissioning request seen by the sink.
type Request struct {
	*wire.Commissioning

	// OfferedKey is the device key after unwrapping, valid when KeyValid.
	OfferedKey device.Key
	KeyValid   bool
}

// Command is an application command received from a commissioned device.
type Command struct {
	ID      uint8
	Payload []byte
}

// Sink is a simulated Proxy/Sink.
type Sink struct {
	medium *radio.Loopback
	opts   Options
	logger *slog.Logger

	mu              sync.Mutex
	key             device.Key
	counter         uint32
	addr            device.Address
	channelRequests []wire.ChannelRequest
	requests        []Request
	descriptions    [][]byte
	commands        []Command
	successes       int
	decommissioned  bool
	authFailures    int
}

// New attaches a sink to medium.
func New(medium *radio.Loopback, opts Options) *Sink {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Channel == 0 {
		opts.Channel = device.MinChannel
	}
	s := &Sink{medium: medium, opts: opts, logger: opts.Logger, key: opts.Key}
	medium.SetPeer(s.onTransmit)
	return s
}

func (s *Sink) onTransmit(tx radio.Transmission) {
	f, err := wire.Parse(tx.Frame)
	if err != nil {
		s.logger.Debug("sink ignored frame", "error", err)
		return
	}
	if f.Direction != security.FromDevice {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if f.Type == wire.FrameMaintenance {
		s.onMaintenance(tx.Channel, f)
		return
	}

	s.addr = f.Address
	if f.Sealed() {
		eng, err := security.New(s.key, f.Address)
		if err != nil {
			return
		}
		if err := f.Open(eng); err != nil {
			s.authFailures++
			s.logger.Debug("sink authentication failure", "error", err)
			return
		}
	}

	switch f.Command {
	case wire.CmdCommissioning:
		s.onCommissioning(tx.Channel, f)
	case wire.CmdApplicationDescription:
		s.descriptions = append(s.descriptions, f.Payload)
		if f.RxAfterTx && !s.opts.IgnoreCommissioning {
			s.sendReply(tx.Channel, f.Address)
		}
	case wire.CmdSuccess:
		s.successes++
	case wire.CmdDecommissioning:
		s.decommissioned = true
	default:
		s.commands = append(s.commands, Command{ID: f.Command, Payload: f.Payload})
	}
}

func (s *Sink) onMaintenance(channel uint8, f *wire.Frame) {
	if f.Command != wire.CmdChannelRequest {
		return
	}
	req, err := wire.DecodeChannelRequest(f.Payload)
	if err != nil {
		return
	}
	s.channelRequests = append(s.channelRequests, req)
	// Only a request without auto-commissioning announces a receive window.
	if f.AutoCommissioning || s.opts.IgnoreChannelRequests {
		return
	}
	s.inject(channel, &wire.Frame{
		Type:      wire.FrameMaintenance,
		Direction: security.ToDevice,
		Sequence:  f.Sequence,
		Command:   wire.CmdChannelConfiguration,
		Payload:   wire.ChannelConfiguration{Channel: s.opts.Channel, Basic: true}.Encode(),
	})
}

func (s *Sink) onCommissioning(channel uint8, f *wire.Frame) {
	c, err := wire.DecodeCommissioning(f.Payload)
	if err != nil {
		s.logger.Debug("sink got malformed commissioning", "error", err)
		return
	}
	r := Request{Commissioning: c}
	if c.Key != nil {
		if !c.KeyEncrypted {
			copy(r.OfferedKey[:], c.Key)
			r.KeyValid = true
		} else if c.OutgoingCounter != nil {
			if eng, err := security.New(s.key, f.Address); err == nil {
				if k, err := eng.UnwrapKey(c.Key, *c.OutgoingCounter, security.FromDevice); err == nil {
					r.OfferedKey, r.KeyValid = k, true
				}
			}
		}
	}
	s.requests = append(s.requests, r)

	if f.RxAfterTx && !s.opts.IgnoreCommissioning {
		s.sendReply(channel, f.Address)
	}
}

// sendReply answers a commissioning request and switches the sink to the
// key it hands out.
func (s *Sink) sendReply(channel uint8, addr device.Address) {
	reply := &wire.CommissioningReply{
		PANID:         s.opts.PANID,
		SecurityLevel: s.opts.SecurityLevel,
		KeyType:       s.opts.KeyType,
	}
	if nk := s.opts.NewKey; nk != nil {
		if s.opts.WrapKey {
			eng, err := security.New(s.key, addr)
			if err != nil {
				return
			}
			s.counter++
			reply.Key = eng.WrapKey(*nk, s.counter, security.ToDevice)
			reply.KeyEncrypted = true
			reply.FrameCounter = s.counter
		} else {
			reply.Key = append([]byte(nil), nk[:]...)
		}
	}
	payload, err := reply.Encode()
	if err != nil {
		s.logger.Warn("sink cannot encode reply", "error", err)
		return
	}
	s.inject(channel, &wire.Frame{
		Type:      wire.FrameData,
		Direction: security.ToDevice,
		Address:   addr,
		Command:   wire.CmdCommissioningReply,
		Payload:   payload,
	})
	if nk := s.opts.NewKey; nk != nil {
		s.key = *nk
	}
}

// Send queues an application command for the device, secured at the
// configured level with the current key. It is delivered in the device's
// next receive window on the operating channel.
func (s *Sink) Send(cmd uint8, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eng *security.Engine
	if s.opts.SecurityLevel.Secured() {
		var err error
		if eng, err = security.New(s.key, s.addr); err != nil {
			return err
		}
	}
	s.counter++
	buf, err := wire.Build(&wire.Frame{
		Type:          wire.FrameData,
		SecurityLevel: s.opts.SecurityLevel,
		Direction:     security.ToDevice,
		Address:       s.addr,
		FrameCounter:  s.counter,
		Command:       cmd,
		Payload:       payload,
	}, eng)
	if err != nil {
		return err
	}
	s.medium.Inject(s.opts.Channel, buf)
	return nil
}

func (s *Sink) inject(channel uint8, f *wire.Frame) {
	buf, err := wire.Build(f, nil)
	if err != nil {
		s.logger.Warn("sink cannot build frame", "error", err)
		return
	}
	s.medium.Inject(channel, buf)
}

// ChannelRequests returns the channel requests received so far.
func (s *Sink) ChannelRequests() []wire.ChannelRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.ChannelRequest(nil), s.channelRequests...)
}

// Requests returns the commissioning requests received so far.
func (s *Sink) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Descriptions returns the application description chunks received.
func (s *Sink) Descriptions() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.descriptions...)
}

// Commands returns the application commands received.
func (s *Sink) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// Successes returns the number of success frames received.
func (s *Sink) Successes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successes
}

// Decommissioned reports whether the device announced decommissioning.
func (s *Sink) Decommissioned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decommissioned
}

// AuthFailures returns the number of frames that failed verification.
func (s *Sink) AuthFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authFailures
}

// Key returns the key the sink currently shares with the device.
func (s *Sink) Key() device.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}
