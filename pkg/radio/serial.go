package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial.v1"
)

// UART opcodes, host to transceiver.
const (
	opStartReceive uint8 = 0x01
	opIdle         uint8 = 0x02
	opWriteFIFO    uint8 = 0x03
	opTransmit     uint8 = 0x04
	opEntropy      uint8 = 0x05
)

// UART messages, transceiver to host.
const (
	msgStatus  uint8 = 0x81
	msgEntropy uint8 = 0x82
	msgRxFrame uint8 = 0x90
)

// Status codes carried in msgStatus.
const (
	statusOK             uint8 = 0x00
	statusTransmitFailed uint8 = 0x01
	statusFIFOSize       uint8 = 0x02
)

const (
	// DefaultResponseTimeout bounds how long a command waits for its status.
	DefaultResponseTimeout = 500 * time.Millisecond

	maxEntropyChunk = 64
	flagSkipCCA     = 0x01
)

// ErrNoResponse indicates the transceiver did not answer in time.
var ErrNoResponse = errors.New("no response from transceiver")

// Serial drives a transceiver coprocessor over a UART.
type Serial struct {
	port    io.ReadWriteCloser
	writer  *FrameWriter
	reader  *FrameReader
	logger  *slog.Logger
	timeout time.Duration

	reqMu sync.Mutex
	resp  chan []byte

	handlerMu sync.RWMutex
	handler   Handler

	done     chan struct{}
	doneOnce sync.Once
	portOnce sync.Once
	wg       sync.WaitGroup
}

var _ Radio = (*Serial)(nil)

// OpenSerial opens portName at baud and starts the receive loop.
func OpenSerial(portName string, baud int, logger *slog.Logger) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("radio: open %s: %w", portName, err)
	}
	return NewSerial(port, logger), nil
}

// NewSerial wraps an already open link to the transceiver.
func NewSerial(port io.ReadWriteCloser, logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Serial{
		port:    port,
		writer:  NewFrameWriter(port),
		reader:  NewFrameReader(port),
		logger:  logger,
		timeout: DefaultResponseTimeout,
		resp:    make(chan []byte, 1),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// SetResponseTimeout changes how long commands wait for a status.
func (s *Serial) SetResponseTimeout(d time.Duration) {
	s.timeout = d
}

// SetHandler installs the inbound frame handler.
func (s *Serial) SetHandler(h Handler) {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

// Close shuts the link down and waits for the receive loop to exit.
func (s *Serial) Close() error {
	s.stop()
	var err error
	s.portOnce.Do(func() { err = s.port.Close() })
	s.wg.Wait()
	return err
}

func (s *Serial) stop() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Serial) readLoop() {
	defer s.wg.Done()
	for {
		msg, err := s.reader.ReadFrame()
		if errors.Is(err, ErrMessageEmpty) {
			// The prefix was consumed, the stream is still in sync.
			s.logger.Warn("radio sent empty message")
			continue
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error("radio receive loop stopped", "error", err)
				s.stop()
			}
			return
		}

		switch msg[0] {
		case msgRxFrame:
			s.handlerMu.RLock()
			h := s.handler
			s.handlerMu.RUnlock()
			if h == nil {
				continue
			}
			frame := append([]byte(nil), msg[1:]...)
			if err := CheckFrame(frame); err != nil {
				s.logger.Debug("discarding malformed rx frame", "error", err)
				continue
			}
			h(frame)
		case msgStatus, msgEntropy:
			select {
			case s.resp <- msg:
			default:
				s.logger.Warn("unsolicited transceiver response", "type", msg[0])
			}
		default:
			s.logger.Debug("unknown transceiver message", "type", msg[0])
		}
	}
}

// request sends one command and waits for the matching response.
func (s *Serial) request(ctx context.Context, msg []byte) ([]byte, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}

	// Drop a late response to a previous, timed out command.
	select {
	case <-s.resp:
	default:
	}

	if err := s.writer.WriteFrame(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case r := <-s.resp:
		return r, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: opcode 0x%02x", ErrNoResponse, msg[0])
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}

func (s *Serial) command(ctx context.Context, msg []byte) error {
	r, err := s.request(ctx, msg)
	if err != nil {
		return err
	}
	if len(r) < 3 || r[0] != msgStatus || r[1] != msg[0] {
		return fmt.Errorf("radio: unexpected response % x to opcode 0x%02x", r, msg[0])
	}
	switch r[2] {
	case statusOK:
		return nil
	case statusTransmitFailed:
		return ErrTransmitFailed
	case statusFIFOSize:
		return ErrFIFOSize
	default:
		return fmt.Errorf("radio: status 0x%02x for opcode 0x%02x", r[2], msg[0])
	}
}

// StartReceive opens a receive window on channel.
func (s *Serial) StartReceive(channel uint8) error {
	return s.command(context.Background(), []byte{opStartReceive, channel})
}

// Idle closes the receive window.
func (s *Serial) Idle() error {
	return s.command(context.Background(), []byte{opIdle})
}

// WriteFrame loads buf into the transceiver FIFO.
func (s *Serial) WriteFrame(buf []byte) error {
	if err := CheckFrame(buf); err != nil {
		return err
	}
	msg := make([]byte, 0, 1+len(buf))
	msg = append(append(msg, opWriteFIFO), buf...)
	return s.command(context.Background(), msg)
}

// StartTransmit sends the loaded frame.
func (s *Serial) StartTransmit(ctx context.Context, skipCCA bool, channel uint8) error {
	var flags uint8
	if skipCCA {
		flags |= flagSkipCCA
	}
	return s.command(ctx, []byte{opTransmit, flags, channel})
}

// Entropy fills buf with transceiver random bytes.
func (s *Serial) Entropy(buf []byte) error {
	for off := 0; off < len(buf); {
		n := min(len(buf)-off, maxEntropyChunk)
		r, err := s.request(context.Background(), []byte{opEntropy, uint8(n)})
		if err != nil {
			return err
		}
		if len(r) != 1+n || r[0] != msgEntropy {
			return fmt.Errorf("radio: short entropy response (%d bytes)", len(r)-1)
		}
		copy(buf[off:], r[1:])
		off += n
	}
	return nil
}
