package proxysim

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/radio"
	"github.com/greenpower/gpd-go/pkg/security"
	"github.com/greenpower/gpd-go/pkg/wire"
)

var (
	testKey = device.Key{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
	newKey  = device.Key{0xf0, 0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd, 0xfe, 0xff}
	addr    = device.Address{AppID: device.AppIDSourceID, SourceID: 0x87654321}
	quiet   = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// transmit plays the device side: it sends f and opens a window on channel.
func transmit(t *testing.T, medium *radio.Loopback, channel uint8, f *wire.Frame, eng *security.Engine) []byte {
	t.Helper()
	buf, err := wire.Build(f, eng)
	require.NoError(t, err)

	var got []byte
	medium.SetHandler(func(b []byte) { got = append([]byte(nil), b...) })
	require.NoError(t, medium.WriteFrame(buf))
	require.NoError(t, medium.StartTransmit(context.Background(), false, channel))
	require.NoError(t, medium.StartReceive(channel))
	return got
}

func TestChannelRequestAnswered(t *testing.T) {
	medium := radio.NewLoopback()
	sink := New(medium, Options{Key: testKey, Channel: 25, Logger: quiet})
	req := wire.ChannelRequest{Next: 11, SecondNext: 11}.Encode()

	got := transmit(t, medium, 11, &wire.Frame{
		Type:              wire.FrameMaintenance,
		AutoCommissioning: true,
		Sequence:          1,
		Command:           wire.CmdChannelRequest,
		Payload:           req,
	}, nil)
	assert.Nil(t, got)

	got = transmit(t, medium, 11, &wire.Frame{
		Type:     wire.FrameMaintenance,
		Sequence: 2,
		Command:  wire.CmdChannelRequest,
		Payload:  req,
	}, nil)
	require.NotNil(t, got)

	rec := &device.Record{Address: addr}
	f, err := wire.Decode(rec, nil, got)
	require.NoError(t, err)
	assert.Equal(t, wire.CmdChannelConfiguration, f.Command)
	cfg, err := wire.DecodeChannelConfiguration(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint8(25), cfg.Channel)
	assert.True(t, cfg.Basic)
	assert.Len(t, sink.ChannelRequests(), 2)
}

func TestCommissioningReplyWrapsKey(t *testing.T) {
	medium := radio.NewLoopback()
	nk := newKey
	sink := New(medium, Options{
		Key:           testKey,
		Channel:       15,
		SecurityLevel: device.SecurityEncrypted,
		KeyType:       device.KeyTypeOutOfBand,
		NewKey:        &nk,
		WrapKey:       true,
		Logger:        quiet,
	})
	eng, err := security.New(testKey, addr)
	require.NoError(t, err)

	counter := uint32(9)
	payload, err := (&wire.Commissioning{
		DeviceID:        0x02,
		RxOnCapability:  true,
		SecurityLevel:   device.SecurityEncrypted,
		KeyType:         device.KeyTypeOutOfBand,
		Key:             eng.WrapKey(testKey, counter, security.FromDevice),
		KeyEncrypted:    true,
		OutgoingCounter: &counter,
	}).Encode()
	require.NoError(t, err)

	got := transmit(t, medium, 15, &wire.Frame{
		Type:         wire.FrameData,
		RxAfterTx:    true,
		Address:      addr,
		FrameCounter: counter,
		Command:      wire.CmdCommissioning,
		Payload:      payload,
	}, nil)
	require.NotNil(t, got)

	reqs := sink.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].KeyValid)
	assert.Equal(t, testKey, reqs[0].OfferedKey)

	rec := &device.Record{Address: addr}
	f, err := wire.Decode(rec, eng, got)
	require.NoError(t, err)
	reply, err := wire.DecodeCommissioningReply(f.Payload)
	require.NoError(t, err)
	assert.True(t, reply.KeyEncrypted)
	key, err := eng.UnwrapKey(reply.Key, reply.FrameCounter, security.ToDevice)
	require.NoError(t, err)
	assert.Equal(t, newKey, key)
	assert.Equal(t, newKey, sink.Key())
}

func TestSilentSink(t *testing.T) {
	medium := radio.NewLoopback()
	sink := New(medium, Options{Key: testKey, IgnoreCommissioning: true, Logger: quiet})
	payload, err := (&wire.Commissioning{DeviceID: 0x02}).Encode()
	require.NoError(t, err)

	got := transmit(t, medium, 11, &wire.Frame{
		Type:      wire.FrameData,
		RxAfterTx: true,
		Address:   addr,
		Command:   wire.CmdCommissioning,
		Payload:   payload,
	}, nil)
	assert.Nil(t, got)
	assert.Len(t, sink.Requests(), 1)
	assert.Zero(t, medium.Pending())
}

func TestSecuredTrafficAndAuthFailures(t *testing.T) {
	medium := radio.NewLoopback()
	sink := New(medium, Options{Key: testKey, Logger: quiet})
	eng, err := security.New(testKey, addr)
	require.NoError(t, err)
	other, err := security.New(newKey, addr)
	require.NoError(t, err)

	frame := func(counter uint32, cmd uint8) *wire.Frame {
		return &wire.Frame{
			Type:          wire.FrameData,
			SecurityLevel: device.SecurityEncrypted,
			Address:       addr,
			FrameCounter:  counter,
			Command:       cmd,
			Payload:       []byte{0x01},
		}
	}
	transmit(t, medium, 11, frame(1, 0x20), eng)
	transmit(t, medium, 11, frame(2, wire.CmdSuccess), eng)
	transmit(t, medium, 11, frame(3, 0x21), other)
	transmit(t, medium, 11, frame(4, wire.CmdDecommissioning), eng)

	assert.Equal(t, []Command{{ID: 0x20, Payload: []byte{0x01}}}, sink.Commands())
	assert.Equal(t, 1, sink.Successes())
	assert.Equal(t, 1, sink.AuthFailures())
	assert.True(t, sink.Decommissioned())
}
