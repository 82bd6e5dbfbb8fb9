package radio

import (
	"context"
	"errors"
	"fmt"
)

// PSDU limits.
const (
	// MaxPSDU is the largest frame the transceiver accepts, including FCS.
	MaxPSDU = 127

	fcsSize = 2
)

// Radio errors.
var (
	// ErrTransmitFailed indicates the transceiver could not send the frame
	// (channel busy or hardware fault).
	ErrTransmitFailed = errors.New("transmit failed")

	// ErrFIFOSize indicates the frame length byte does not match the buffer.
	ErrFIFOSize = errors.New("fifo size mismatch")

	// ErrClosed indicates the radio has been closed.
	ErrClosed = errors.New("radio closed")
)

// Handler receives a completed inbound frame, length byte first. It is
// called from the radio's receive context and must not block.
type Handler func(buf []byte)

// Radio is the transceiver collaborator consumed by the device stack.
type Radio interface {
	// SetHandler installs the inbound frame handler.
	SetHandler(h Handler)

	// StartReceive opens a receive window on channel.
	StartReceive(channel uint8) error

	// Idle closes any receive window.
	Idle() error

	// WriteFrame loads a length-prefixed frame into the transmit FIFO.
	WriteFrame(buf []byte) error

	// StartTransmit sends the loaded frame on channel and waits for
	// completion.
	StartTransmit(ctx context.Context, skipCCA bool, channel uint8) error

	// Entropy fills buf with random bytes from the transceiver.
	Entropy(buf []byte) error
}

// CheckFrame verifies that buf is a well formed length-prefixed frame.
func CheckFrame(buf []byte) error {
	if len(buf) < 2 {
		return fmt.Errorf("%w: %d bytes", ErrFIFOSize, len(buf))
	}
	if int(buf[0]) != len(buf)-1+fcsSize || buf[0] > MaxPSDU {
		return fmt.Errorf("%w: length byte %d for %d bytes", ErrFIFOSize, buf[0], len(buf))
	}
	return nil
}
