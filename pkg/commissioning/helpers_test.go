package commissioning

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shimmeringbee/zigbee"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/greenpower/gpd-go/internal/proxysim"
	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/log"
	"github.com/greenpower/gpd-go/pkg/persistence"
	"github.com/greenpower/gpd-go/pkg/radio"
	"github.com/greenpower/gpd-go/pkg/wire"
)

type mockApplication struct {
	mock.Mock
}

func (m *mockApplication) Identity() (zigbee.IEEEAddress, zigbee.Endpoint, bool) {
	args := m.Called()
	return args.Get(0).(zigbee.IEEEAddress), args.Get(1).(zigbee.Endpoint), args.Bool(2)
}

func (m *mockApplication) NextAppDescription() ([]byte, bool) {
	args := m.Called()
	chunk, _ := args.Get(0).([]byte)
	return chunk, args.Bool(1)
}

func (m *mockApplication) SwitchStatus() uint8 {
	return uint8(m.Called().Int(0))
}

func (m *mockApplication) HandleCommand(cmd uint8, payload []byte) {
	m.Called(cmd, payload)
}

func (m *mockApplication) ChannelReceived(channel uint8) {
	m.Called(channel)
}

func (m *mockApplication) CommissioningReplyReceived(reply *wire.CommissioningReply) {
	m.Called(reply)
}

// newMockApplication registers the test's expectations first so they take
// precedence over the permissive defaults.
func newMockApplication(t *testing.T, setup func(*mockApplication)) *mockApplication {
	m := &mockApplication{}
	if setup != nil {
		setup(m)
	}
	m.On("Identity").Return(zigbee.IEEEAddress(0), zigbee.Endpoint(0), false).Maybe()
	m.On("NextAppDescription").Return([]byte{0xaa}, true).Maybe()
	m.On("SwitchStatus").Return(0).Maybe()
	m.On("HandleCommand", mock.Anything, mock.Anything).Return().Maybe()
	m.On("ChannelReceived", mock.Anything).Return().Maybe()
	m.On("CommissioningReplyReceived", mock.Anything).Return().Maybe()
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureLogger) drops() []*log.DropEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*log.DropEvent
	for _, e := range c.events {
		if e.Drop != nil {
			out = append(out, e.Drop)
		}
	}
	return out
}

func (c *captureLogger) states() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		if e.StateChange != nil {
			out = append(out, e.StateChange.NewState)
		}
	}
	return out
}

var issuedKey = device.Key{
	0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
	0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f,
}

func testConfig() *device.Config {
	cfg := device.DefaultConfig()
	cfg.Channels = []uint8{11, 15, 20}
	cfg.ChannelRequestRepeats = 2
	cfg.RxChannelRetries = 3
	return cfg
}

func sinkOptions() proxysim.Options {
	key := issuedKey
	return proxysim.Options{
		Channel:       20,
		SecurityLevel: device.SecurityEncrypted,
		KeyType:       device.KeyTypeOutOfBand,
		NewKey:        &key,
		WrapKey:       true,
	}
}

type harness struct {
	t      *testing.T
	cfg    *device.Config
	rec    *device.Record
	store  *persistence.MemoryStore
	medium *radio.Loopback
	sink   *proxysim.Sink
	app    *mockApplication
	events *captureLogger
	dev    *Device
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// newHarness wires a device to a simulated sink. The sink shares the
// device's configured key unless opts.Key is set.
func newHarness(t *testing.T, cfg *device.Config, opts proxysim.Options, setup func(*mockApplication)) *harness {
	t.Helper()
	rec, err := device.NewRecord(cfg)
	require.NoError(t, err)

	h := &harness{
		t:      t,
		cfg:    cfg,
		rec:    rec,
		store:  &persistence.MemoryStore{},
		medium: radio.NewLoopback(),
		events: &captureLogger{},
	}
	if opts.Key == (device.Key{}) {
		opts.Key = rec.Key
	}
	opts.Logger = quiet
	h.sink = proxysim.New(h.medium, opts)
	h.app = newMockApplication(t, setup)

	h.dev, err = New(Options{
		Record:         rec,
		Store:          persistence.NewAdapter(h.store),
		Radio:          h.medium,
		Application:    h.app,
		ProtocolLogger: h.events,
		Logger:         quiet,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) step() {
	h.t.Helper()
	require.NoError(h.t, h.dev.Step(context.Background()))
}

func (h *harness) steps(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		h.step()
	}
}

// commission steps until OPERATIONAL.
func (h *harness) commission() {
	h.t.Helper()
	for i := 0; i < 50; i++ {
		h.step()
		if h.rec.State == device.StateOperational {
			return
		}
	}
	h.t.Fatalf("not operational after 50 steps, state %s", h.rec.State)
}

// sent parses every frame the device transmitted.
func (h *harness) sent() []*wire.Frame {
	h.t.Helper()
	var out []*wire.Frame
	for _, tx := range h.medium.Sent() {
		f, err := wire.Parse(tx.Frame)
		require.NoError(h.t, err)
		out = append(out, f)
	}
	return out
}

func (h *harness) persisted() persistence.Blob {
	h.t.Helper()
	buf := make([]byte, persistence.BlobSize)
	n, err := h.store.Load(buf)
	require.NoError(h.t, err)
	blob, err := persistence.Decode(buf[:n])
	require.NoError(h.t, err)
	return blob
}
