package commissioning

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shimmeringbee/zigbee"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/greenpower/gpd-go/internal/proxysim"
	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/persistence"
	"github.com/greenpower/gpd-go/pkg/radio"
	"github.com/greenpower/gpd-go/pkg/security"
	"github.com/greenpower/gpd-go/pkg/wire"
)

func TestNewRequiresOptions(t *testing.T) {
	rec, err := device.NewRecord(device.DefaultConfig())
	require.NoError(t, err)
	store := persistence.NewAdapter(&persistence.MemoryStore{})

	_, err = New(Options{Store: store, Radio: radio.NewLoopback()})
	assert.ErrorIs(t, err, ErrMissingOption)
	_, err = New(Options{Record: rec, Radio: radio.NewLoopback()})
	assert.ErrorIs(t, err, ErrMissingOption)
	_, err = New(Options{Record: rec, Store: store})
	assert.ErrorIs(t, err, ErrMissingOption)

	d, err := New(Options{Record: rec, Store: store, Radio: radio.NewLoopback(), Logger: quiet})
	require.NoError(t, err)
	assert.Equal(t, device.StateNotCommissioned, d.State())
	assert.NotEmpty(t, d.SessionID())
}

func TestBidirectionalCommissioning(t *testing.T) {
	h := newHarness(t, testConfig(), sinkOptions(), func(m *mockApplication) {
		m.On("ChannelReceived", uint8(20)).Return().Once()
		m.On("CommissioningReplyReceived", mock.Anything).Return().Once()
	})
	configuredKey := h.rec.Key

	h.steps(6)
	assert.Equal(t, device.StateChannelRequest, h.dev.State())

	h.step()
	h.step()
	assert.Equal(t, device.StateCommissioningRequest, h.dev.State())
	assert.Equal(t, uint8(20), h.rec.Radio.Channel)

	h.step()
	assert.Equal(t, device.StateCommissioningSuccessRequest, h.dev.State())
	h.step()
	assert.Equal(t, device.StateOperational, h.dev.State())

	assert.Equal(t, issuedKey, h.rec.Key)
	assert.NotEqual(t, configuredKey, h.rec.Key)
	assert.Equal(t, device.SecurityEncrypted, h.rec.SecurityLevel)
	assert.Equal(t, device.KeyTypeOutOfBand, h.rec.KeyType)
	assert.Equal(t, 2, h.sink.Successes())
	assert.Zero(t, h.sink.AuthFailures())

	var channels []uint8
	for _, tx := range h.medium.Sent() {
		channels = append(channels, tx.Channel)
	}
	assert.Equal(t, []uint8{11, 11, 15, 15, 20, 20, 11, 20, 20, 20}, channels)

	frames := h.sent()
	for i := 0; i < 6; i++ {
		assert.Equal(t, wire.FrameMaintenance, frames[i].Type)
		assert.True(t, frames[i].AutoCommissioning, "sweep frame %d", i)
	}
	assert.False(t, frames[6].AutoCommissioning)
	assert.Equal(t, wire.CmdCommissioning, frames[7].Command)
	assert.Equal(t, device.SecurityNone, frames[7].SecurityLevel)
	assert.True(t, frames[7].RxAfterTx)
	for _, f := range frames[8:] {
		assert.Equal(t, device.SecurityEncrypted, f.SecurityLevel)
		assert.False(t, f.RxAfterTx)
	}

	for _, req := range h.sink.ChannelRequests() {
		assert.Equal(t, uint8(11), req.Next)
		assert.Equal(t, uint8(11), req.SecondNext)
	}

	reqs := h.sink.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].RxOnCapability)
	assert.Equal(t, uint8(0x02), reqs[0].DeviceID)
	assert.Equal(t, device.SecurityEncrypted, reqs[0].SecurityLevel)
	assert.Nil(t, reqs[0].Key)
	require.NotNil(t, reqs[0].OutgoingCounter)
	assert.Equal(t, uint32(8), *reqs[0].OutgoingCounter)

	assert.Equal(t, []string{
		"CHANNEL_REQUEST",
		"CHANNEL_RECEIVED",
		"COMMISSIONING_REQUEST",
		"COMMISSIONING_REPLY_RECEIVED",
		"COMMISSIONING_SUCCESS_REQUEST",
		"OPERATIONAL",
	}, h.events.states())

	blob := h.persisted()
	restored, err := device.NewRecord(h.cfg)
	require.NoError(t, err)
	require.NoError(t, blob.Apply(restored))
	assert.Equal(t, h.rec.FrameCounter, restored.FrameCounter)
	assert.Equal(t, issuedKey, restored.Key)
	assert.Equal(t, device.StateOperational, restored.State)
	assert.Equal(t, uint8(20), restored.Radio.Channel)
}

func TestReplyParametersInstalled(t *testing.T) {
	tests := []struct {
		name string
		opts func(*proxysim.Options)
		cfg  func(*device.Config)
	}{
		{
			name: "AuthDerivedWrapped",
			opts: func(o *proxysim.Options) {
				o.SecurityLevel = device.SecurityAuth
				o.KeyType = device.KeyTypeDerived
			},
		},
		{
			name: "PlainKey",
			opts: func(o *proxysim.Options) { o.WrapKey = false },
		},
		{
			name: "LongAddress",
			cfg: func(c *device.Config) {
				c.ApplicationID = uint8(device.AppIDIEEE)
				c.IEEEAddress = 0x8877665544332211
				c.Endpoint = 3
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Channels = []uint8{11}
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			opts := sinkOptions()
			if tt.opts != nil {
				tt.opts(&opts)
			}

			h := newHarness(t, cfg, opts, nil)
			h.commission()

			assert.Equal(t, issuedKey, h.rec.Key)
			assert.Equal(t, opts.SecurityLevel, h.rec.SecurityLevel)
			assert.Equal(t, opts.KeyType, h.rec.KeyType)
			assert.Equal(t, 2, h.sink.Successes())
			assert.Zero(t, h.sink.AuthFailures())
		})
	}
}

func TestOfferedKey(t *testing.T) {
	for _, encrypt := range []bool{false, true} {
		cfg := testConfig()
		cfg.Channels = []uint8{11}
		cfg.OfferKey = true
		cfg.EncryptKey = encrypt
		h := newHarness(t, cfg, sinkOptions(), nil)
		deviceKey := h.rec.Key

		h.commission()

		reqs := h.sink.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, encrypt, reqs[0].KeyEncrypted)
		assert.True(t, reqs[0].KeyValid, "encrypt=%v", encrypt)
		assert.Equal(t, deviceKey, reqs[0].OfferedKey)
		if encrypt {
			assert.Len(t, reqs[0].Key, security.WrappedKeySize)
			assert.NotEqual(t, deviceKey[:], reqs[0].Key[:device.KeySize])
		}
	}
}

func TestKeyUnwrapFailureKeepsState(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = []uint8{11}
	cfg.ChannelRequestRepeats = 1
	opts := sinkOptions()
	opts.Key = device.Key{0xde, 0xad, 0xbe, 0xef}

	h := newHarness(t, cfg, opts, nil)
	configuredKey := h.rec.Key

	h.steps(3)
	assert.Equal(t, device.StateCommissioningRequest, h.dev.State())

	h.step()
	assert.Equal(t, device.StateCommissioningRequest, h.dev.State())
	assert.Equal(t, configuredKey, h.rec.Key)
	assert.Equal(t, device.SecurityEncrypted, h.rec.SecurityLevel)

	drops := h.events.drops()
	require.NotEmpty(t, drops)
	assert.True(t, drops[0].AuthFailure)
	h.app.AssertNotCalled(t, "CommissioningReplyReceived", mock.Anything)
}

func TestChannelRequestExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = []uint8{11, 15}
	cfg.ChannelRequestRepeats = 1
	cfg.RxChannelRetries = 2
	opts := sinkOptions()
	opts.IgnoreChannelRequests = true
	h := newHarness(t, cfg, opts, nil)

	h.steps(4)
	assert.Equal(t, device.StateChannelRequest, h.dev.State())
	h.step()
	assert.Equal(t, device.StateNotCommissioned, h.dev.State())

	frames := h.sent()
	require.Len(t, frames, 4)
	assert.True(t, frames[0].AutoCommissioning)
	assert.True(t, frames[1].AutoCommissioning)
	assert.False(t, frames[2].AutoCommissioning)
	assert.False(t, frames[3].AutoCommissioning)
	sent := h.medium.Sent()
	assert.Equal(t, uint8(11), sent[2].Channel)
	assert.Equal(t, uint8(11), sent[3].Channel)

	// The next step starts over with a fresh sweep.
	h.step()
	assert.Equal(t, device.StateChannelRequest, h.dev.State())
	assert.Equal(t, uint8(11), h.medium.Sent()[4].Channel)
	assert.True(t, h.sent()[4].AutoCommissioning)
}

func TestCommissioningExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = []uint8{11}
	cfg.ChannelRequestRepeats = 1
	cfg.RxChannelRetries = 1
	cfg.CommissioningRetries = 2
	cfg.CommissioningRounds = 2
	opts := sinkOptions()
	opts.IgnoreCommissioning = true
	h := newHarness(t, cfg, opts, nil)

	want := []device.State{
		device.StateChannelRequest,
		device.StateChannelRequest,
		device.StateCommissioningRequest,
		device.StateCommissioningRequest,
		device.StateChannelReceived,
		device.StateCommissioningRequest,
		device.StateCommissioningRequest,
		device.StateNotCommissioned,
	}
	for i, s := range want {
		h.step()
		assert.Equal(t, s, h.dev.State(), "after step %d", i+1)
	}
	assert.Len(t, h.sink.Requests(), 4)
}

func TestUnidirectionalCommissioning(t *testing.T) {
	cfg := testConfig()
	cfg.Bidirectional = false
	h := newHarness(t, cfg, sinkOptions(), nil)

	h.step()
	assert.Equal(t, device.StateOperational, h.dev.State())

	frames := h.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, wire.CmdCommissioning, frames[0].Command)
	assert.Equal(t, device.SecurityNone, frames[0].SecurityLevel)
	assert.False(t, frames[0].RxAfterTx)
	assert.Equal(t, uint8(11), h.medium.Sent()[0].Channel)

	reqs := h.sink.Requests()
	require.Len(t, reqs, 1)
	assert.False(t, reqs[0].RxOnCapability)

	// Operational re-announces the commissioning request.
	h.step()
	assert.Equal(t, device.StateOperational, h.dev.State())
	assert.Len(t, h.sink.Requests(), 2)
	assert.Zero(t, h.sink.Successes())
}

func TestApplicationDescription(t *testing.T) {
	t.Run("Unidirectional", func(t *testing.T) {
		cfg := testConfig()
		cfg.Bidirectional = false
		cfg.ApplicationDescription = true
		h := newHarness(t, cfg, sinkOptions(), func(m *mockApplication) {
			m.On("NextAppDescription").Return([]byte{0x01, 0x02}, false).Once()
			m.On("NextAppDescription").Return([]byte{0x03}, true).Once()
		})

		h.step()
		assert.Equal(t, device.StateNotCommissioned, h.dev.State())
		h.step()
		assert.Equal(t, device.StateNotCommissioned, h.dev.State())
		h.step()
		assert.Equal(t, device.StateOperational, h.dev.State())

		reqs := h.sink.Requests()
		require.Len(t, reqs, 1)
		require.NotNil(t, reqs[0].AppInfo)
		assert.True(t, reqs[0].AppInfo.DescriptionNext)
		assert.Equal(t, [][]byte{{0x01, 0x02}, {0x03}}, h.sink.Descriptions())
		for _, f := range h.sent() {
			assert.False(t, f.RxAfterTx)
		}
	})

	t.Run("Bidirectional", func(t *testing.T) {
		cfg := testConfig()
		cfg.Channels = []uint8{11}
		cfg.ChannelRequestRepeats = 1
		cfg.ApplicationDescription = true
		h := newHarness(t, cfg, sinkOptions(), nil)

		h.steps(3)
		assert.Equal(t, device.StateCommissioningRequest, h.dev.State())
		h.step()
		h.step()
		assert.Equal(t, device.StateCommissioningSuccessRequest, h.dev.State())
		h.step()
		assert.Equal(t, device.StateOperational, h.dev.State())

		frames := h.sent()
		require.Len(t, frames, 6)
		assert.Equal(t, wire.CmdCommissioning, frames[2].Command)
		assert.False(t, frames[2].RxAfterTx)
		assert.Equal(t, wire.CmdApplicationDescription, frames[3].Command)
		assert.True(t, frames[3].RxAfterTx)
		assert.Equal(t, issuedKey, h.rec.Key)
	})
}

func TestFrameCounterSurvivesPowerCycle(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = []uint8{11}
	h := newHarness(t, cfg, sinkOptions(), nil)
	h.commission()

	var last uint32
	for i, f := range h.sent() {
		if f.SecurityLevel.Secured() {
			assert.Greater(t, f.FrameCounter, last, "frame %d", i)
			last = f.FrameCounter
		}
	}
	assert.Equal(t, h.rec.FrameCounter, h.persisted().FrameCounter())

	// Power cycle: a fresh record restored from the same store.
	rec, err := device.NewRecord(cfg)
	require.NoError(t, err)
	medium := radio.NewLoopback()
	sink := proxysim.New(medium, proxysim.Options{Key: issuedKey, Channel: 20, SecurityLevel: device.SecurityEncrypted, Logger: quiet})
	dev, err := New(Options{
		Record: rec,
		Store:  persistence.NewAdapter(h.store),
		Radio:  medium,
		Logger: quiet,
	})
	require.NoError(t, err)
	assert.Equal(t, device.StateOperational, dev.State())
	assert.Equal(t, h.rec.FrameCounter, rec.FrameCounter)
	assert.Equal(t, issuedKey, rec.Key)
	assert.Equal(t, uint8(20), rec.Radio.Channel)

	require.NoError(t, dev.SendCommand(context.Background(), 0x20, nil))
	sent := medium.Sent()
	require.Len(t, sent, 1)
	f, err := wire.Parse(sent[0].Frame)
	require.NoError(t, err)
	assert.Greater(t, f.FrameCounter, h.rec.FrameCounter)
	require.Len(t, sink.Commands(), 1)
	assert.Equal(t, uint8(0x20), sink.Commands()[0].ID)
}

func TestMaintenanceSequenceNeverZero(t *testing.T) {
	h := newHarness(t, testConfig(), sinkOptions(), nil)
	h.rec.FrameCounter = 0xff

	h.step()
	assert.Equal(t, uint32(0x101), h.rec.FrameCounter)
	assert.Equal(t, uint8(1), h.sent()[0].Sequence)
}

func TestPersistBeforeTransmit(t *testing.T) {
	h := newHarness(t, testConfig(), sinkOptions(), nil)
	var persisted []uint32
	h.medium.SetPeer(func(tx radio.Transmission) {
		persisted = append(persisted, h.persisted().FrameCounter())
	})

	h.steps(3)
	assert.Equal(t, []uint32{1, 2, 3}, persisted)
}

func TestFrameCounterNeverWraps(t *testing.T) {
	cfg := testConfig()
	cfg.Bidirectional = false
	h := newHarness(t, cfg, sinkOptions(), nil)
	h.rec.FrameCounter = math.MaxUint32 - 1

	h.step()
	assert.Equal(t, uint32(math.MaxUint32), h.rec.FrameCounter)
	require.Len(t, h.medium.Sent(), 1)

	err := h.dev.Step(context.Background())
	assert.ErrorIs(t, err, ErrCounterExhausted)
	assert.Equal(t, uint32(math.MaxUint32), h.rec.FrameCounter)
	assert.Len(t, h.medium.Sent(), 1)
	assert.Equal(t, uint32(math.MaxUint32), h.persisted().FrameCounter())
}

func TestPersistFailure(t *testing.T) {
	cfg := testConfig()
	rec, err := device.NewRecord(cfg)
	require.NoError(t, err)
	medium := radio.NewLoopback()
	d, err := New(Options{
		Record: rec,
		Store:  persistence.NewAdapter(failingStore{}),
		Radio:  medium,
		Logger: quiet,
	})
	require.NoError(t, err)

	err = d.Step(context.Background())
	assert.ErrorIs(t, err, ErrPersist)
	assert.Empty(t, medium.Sent())
}

type failingStore struct{}

func (failingStore) Save([]byte) error        { return errors.New("flash worn out") }
func (failingStore) Load([]byte) (int, error) { return 0, persistence.ErrNoState }
func (failingStore) Clear() error             { return nil }

func TestRadioFailureSurfaced(t *testing.T) {
	h := newHarness(t, testConfig(), sinkOptions(), nil)
	h.medium.FailTransmit = radio.ErrTransmitFailed

	err := h.dev.Step(context.Background())
	assert.ErrorIs(t, err, ErrRadio)
	assert.ErrorIs(t, err, radio.ErrTransmitFailed)
	assert.Equal(t, uint32(1), h.persisted().FrameCounter())

	h.step()
	assert.Equal(t, uint32(2), h.rec.FrameCounter)
	assert.Len(t, h.medium.Sent(), 1)
}

func TestStepHonoursContext(t *testing.T) {
	h := newHarness(t, testConfig(), sinkOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.dev.Step(ctx), context.Canceled)
	assert.Empty(t, h.medium.Sent())
}

func TestGeneratedKey(t *testing.T) {
	cfg := testConfig()
	cfg.Key = ""
	cfg.GenerateKey = true
	h := newHarness(t, cfg, sinkOptions(), nil)
	require.True(t, h.rec.Key.IsZero())

	entropy := bytes.Repeat([]byte{0x5a}, device.KeySize)
	h.medium.SetEntropy(bytes.NewReader(entropy))

	h.step()
	var want device.Key
	copy(want[:], entropy)
	assert.Equal(t, want, h.rec.Key)

	rec, err := device.NewRecord(cfg)
	require.NoError(t, err)
	require.NoError(t, h.persisted().Apply(rec))
	assert.Equal(t, want, rec.Key)
}

func TestGeneratedKeyWrappedUnderSharedKey(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = []uint8{11}
	cfg.Key = ""
	cfg.GenerateKey = true
	cfg.OfferKey = true
	cfg.EncryptKey = true
	h := newHarness(t, cfg, sinkOptions(), nil)
	shared := h.sink.Key()
	require.True(t, shared.IsZero())

	entropy := bytes.Repeat([]byte{0x5a}, device.KeySize)
	h.medium.SetEntropy(bytes.NewReader(entropy))
	var generated device.Key
	copy(generated[:], entropy)

	h.commission()

	reqs := h.sink.Requests()
	require.NotEmpty(t, reqs)
	assert.True(t, reqs[0].KeyEncrypted)
	assert.True(t, reqs[0].KeyValid)
	assert.Equal(t, generated, reqs[0].OfferedKey)
	// The issued key was wrapped by the sink under the shared key too.
	assert.Equal(t, issuedKey, h.rec.Key)
}

func TestIdentityFromApplication(t *testing.T) {
	cfg := testConfig()
	cfg.ApplicationID = uint8(device.AppIDIEEE)
	cfg.IEEEAddress = 0x01
	h := newHarness(t, cfg, sinkOptions(), func(m *mockApplication) {
		m.On("Identity").Return(zigbee.IEEEAddress(0xaabbccddeeff0011), zigbee.Endpoint(9), true).Once()
	})

	assert.Equal(t, zigbee.IEEEAddress(0xaabbccddeeff0011), h.rec.Address.IEEE)
	assert.Equal(t, zigbee.Endpoint(9), h.rec.Address.Endpoint)
}

func TestDeliverNeverBlocks(t *testing.T) {
	rec, err := device.NewRecord(testConfig())
	require.NoError(t, err)
	d, err := New(Options{
		Record:    rec,
		Store:     persistence.NewAdapter(&persistence.MemoryStore{}),
		Radio:     radio.NewLoopback(),
		Logger:    quiet,
		InboxSize: 1,
	})
	require.NoError(t, err)

	assert.True(t, d.Deliver([]byte{0x01}))
	assert.False(t, d.Deliver([]byte{0x02}))
	assert.Equal(t, 1, d.Status().Queued)
}

func TestSendCommandRequiresCommissioning(t *testing.T) {
	h := newHarness(t, testConfig(), sinkOptions(), nil)
	err := h.dev.SendCommand(context.Background(), 0x20, nil)
	assert.ErrorIs(t, err, ErrNotCommissioned)
	assert.Empty(t, h.medium.Sent())
}

func TestOperationalCommandExchange(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = []uint8{11}
	h := newHarness(t, cfg, sinkOptions(), func(m *mockApplication) {
		m.On("HandleCommand", uint8(0x40), []byte{0x07}).Return().Once()
	})
	h.commission()

	require.NoError(t, h.sink.Send(0x40, []byte{0x07}))
	require.NoError(t, h.dev.SendCommand(context.Background(), 0x20, []byte{0x01}))
	assert.Equal(t, device.StateOperationalCommandRequest, h.dev.State())

	cmds := h.sink.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, uint8(0x20), cmds[0].ID)
	assert.Equal(t, []byte{0x01}, cmds[0].Payload)

	h.step()
	assert.Equal(t, device.StateOperational, h.dev.State())
	assert.Contains(t, h.events.states(), "OPERATIONAL_COMMAND_RECEIVED")
	listening, _ := h.medium.Listening()
	assert.False(t, listening)
}

func TestInboundFrameFiltering(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = []uint8{11}
	h := newHarness(t, cfg, sinkOptions(), nil)
	h.commission()

	eng, err := security.ForRecord(h.rec)
	require.NoError(t, err)
	build := func(level device.SecurityLevel, counter uint32, cmd uint8) []byte {
		var e *security.Engine
		if level.Secured() {
			e = eng
		}
		buf, err := wire.Build(&wire.Frame{
			Type:          wire.FrameData,
			SecurityLevel: level,
			Direction:     security.ToDevice,
			Address:       h.rec.Address,
			FrameCounter:  counter,
			Command:       cmd,
			Payload:       []byte{0x01},
		}, e)
		require.NoError(t, err)
		return buf
	}

	fresh := build(device.SecurityEncrypted, 100, 0x40)
	require.True(t, h.dev.Deliver(fresh))
	require.True(t, h.dev.Deliver(fresh))
	require.True(t, h.dev.Deliver(build(device.SecurityEncrypted, 50, 0x41)))
	require.True(t, h.dev.Deliver(build(device.SecurityNone, 0, 0x42)))
	h.step()

	h.app.AssertNumberOfCalls(t, "HandleCommand", 1)
	h.app.AssertCalled(t, "HandleCommand", uint8(0x40), []byte{0x01})
	drops := h.events.drops()
	require.Len(t, drops, 3)
	for _, d := range drops {
		assert.False(t, d.AuthFailure)
	}

	// A frame sealed with a foreign key fails authentication.
	foreign, err := security.New(device.Key{0x01}, h.rec.Address)
	require.NoError(t, err)
	buf, err := wire.Build(&wire.Frame{
		Type:          wire.FrameData,
		SecurityLevel: device.SecurityEncrypted,
		Direction:     security.ToDevice,
		Address:       h.rec.Address,
		FrameCounter:  200,
		Command:       0x40,
	}, foreign)
	require.NoError(t, err)
	require.True(t, h.dev.Deliver(buf))
	h.step()
	drops = h.events.drops()
	require.Len(t, drops, 4)
	assert.True(t, drops[3].AuthFailure)
	h.app.AssertNumberOfCalls(t, "HandleCommand", 1)
}

func TestDroppedFramesKeepReplayWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = []uint8{11}
	h := newHarness(t, cfg, sinkOptions(), nil)
	h.commission()

	eng, err := security.ForRecord(h.rec)
	require.NoError(t, err)
	build := func(level device.SecurityLevel, counter uint32, cmd uint8, payload []byte) []byte {
		buf, err := wire.Build(&wire.Frame{
			Type:          wire.FrameData,
			SecurityLevel: level,
			Direction:     security.ToDevice,
			Address:       h.rec.Address,
			FrameCounter:  counter,
			Command:       cmd,
			Payload:       payload,
		}, eng)
		require.NoError(t, err)
		return buf
	}

	reply, err := (&wire.CommissioningReply{SecurityLevel: device.SecurityEncrypted, KeyType: device.KeyTypeOutOfBand}).Encode()
	require.NoError(t, err)
	require.True(t, h.dev.Deliver(build(device.SecurityEncrypted, 500, wire.CmdCommissioningReply, reply)))
	require.True(t, h.dev.Deliver(build(device.SecurityAuth, 600, 0x40, []byte{0x01})))
	require.True(t, h.dev.Deliver(build(device.SecurityEncrypted, 300, 0x41, []byte{0x02})))
	h.step()

	require.Len(t, h.events.drops(), 2)
	h.app.AssertNumberOfCalls(t, "HandleCommand", 1)
	h.app.AssertCalled(t, "HandleCommand", uint8(0x41), []byte{0x02})
}

func TestUnexpectedFramesDropped(t *testing.T) {
	h := newHarness(t, testConfig(), sinkOptions(), nil)
	reply, err := (&wire.CommissioningReply{SecurityLevel: device.SecurityEncrypted, KeyType: device.KeyTypeOutOfBand}).Encode()
	require.NoError(t, err)
	buf, err := wire.Build(&wire.Frame{
		Type:      wire.FrameData,
		Direction: security.ToDevice,
		Address:   h.rec.Address,
		Command:   wire.CmdCommissioningReply,
		Payload:   reply,
	}, nil)
	require.NoError(t, err)

	require.True(t, h.dev.Deliver(buf))
	h.step()
	assert.Equal(t, device.StateChannelRequest, h.dev.State())
	assert.Len(t, h.events.drops(), 1)
	h.app.AssertNotCalled(t, "CommissioningReplyReceived", mock.Anything)
}

func TestDecommission(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = []uint8{11}
	h := newHarness(t, cfg, sinkOptions(), nil)
	configuredKey := h.rec.Key
	h.commission()
	before := h.rec.FrameCounter

	require.NoError(t, h.dev.Decommission(context.Background()))
	assert.True(t, h.sink.Decommissioned())

	frames := h.sent()
	last := frames[len(frames)-1]
	assert.Equal(t, wire.CmdDecommissioning, last.Command)
	assert.Equal(t, device.SecurityNone, last.SecurityLevel)
	assert.False(t, last.RxAfterTx)
	assert.Equal(t, uint8(20), h.medium.Sent()[len(frames)-1].Channel)

	assert.Equal(t, device.StateNotCommissioned, h.dev.State())
	assert.Equal(t, configuredKey, h.rec.Key)
	assert.Equal(t, cfg.SecurityLevel, h.rec.SecurityLevel)
	assert.Equal(t, cfg.RxChannel, h.rec.Radio.Channel)
	assert.Equal(t, before+1, h.rec.FrameCounter)
	assert.Equal(t, before+1, h.persisted().FrameCounter())

	// Recommissioning starts from the sweep again.
	h.step()
	assert.Equal(t, device.StateChannelRequest, h.dev.State())
	assert.Greater(t, h.rec.FrameCounter, before+1)
}

func TestDecommissionRadioFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = []uint8{11}
	h := newHarness(t, cfg, sinkOptions(), nil)
	h.commission()

	h.medium.FailTransmit = radio.ErrTransmitFailed
	err := h.dev.Decommission(context.Background())
	assert.ErrorIs(t, err, ErrRadio)
	assert.Equal(t, device.StateOperational, h.dev.State())
	assert.Equal(t, issuedKey, h.rec.Key)
	assert.False(t, h.sink.Decommissioned())
}
