package radio

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
)

// Transmission is one frame sent by the device through a Loopback.
type Transmission struct {
	Channel uint8
	SkipCCA bool
	Frame   []byte
}

// Loopback is an in-memory radio medium. Frames sent by the device are
// handed to the peer callback; frames injected by the peer are delivered
// once the device opens a receive window on their channel.
type Loopback struct {
	mu        sync.Mutex
	handler   Handler
	peer      func(Transmission)
	fifo      []byte
	receiving bool
	channel   uint8
	pending   []Transmission
	sent      []Transmission
	entropy   io.Reader

	// FailTransmit, when set, is returned by the next StartTransmit.
	FailTransmit error
}

var _ Radio = (*Loopback)(nil)

// NewLoopback creates an idle loopback medium.
func NewLoopback() *Loopback {
	return &Loopback{entropy: rand.Reader}
}

// SetHandler installs the inbound frame handler.
func (l *Loopback) SetHandler(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// SetPeer installs the callback invoked for every transmitted frame.
func (l *Loopback) SetPeer(peer func(Transmission)) {
	l.mu.Lock()
	l.peer = peer
	l.mu.Unlock()
}

// SetEntropy replaces the entropy source.
func (l *Loopback) SetEntropy(r io.Reader) {
	l.mu.Lock()
	l.entropy = r
	l.mu.Unlock()
}

// StartReceive opens a receive window and flushes frames queued for
// channel.
func (l *Loopback) StartReceive(channel uint8) error {
	l.mu.Lock()
	l.receiving = true
	l.channel = channel
	var deliver [][]byte
	kept := l.pending[:0]
	for _, p := range l.pending {
		if p.Channel == channel {
			deliver = append(deliver, p.Frame)
		} else {
			kept = append(kept, p)
		}
	}
	l.pending = kept
	h := l.handler
	l.mu.Unlock()

	if h != nil {
		for _, f := range deliver {
			h(f)
		}
	}
	return nil
}

// Idle closes the receive window.
func (l *Loopback) Idle() error {
	l.mu.Lock()
	l.receiving = false
	l.mu.Unlock()
	return nil
}

// WriteFrame loads buf into the transmit FIFO.
func (l *Loopback) WriteFrame(buf []byte) error {
	if err := CheckFrame(buf); err != nil {
		return err
	}
	l.mu.Lock()
	l.fifo = append([]byte(nil), buf...)
	l.mu.Unlock()
	return nil
}

// StartTransmit hands the FIFO contents to the peer.
func (l *Loopback) StartTransmit(ctx context.Context, skipCCA bool, channel uint8) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	if err := l.FailTransmit; err != nil {
		l.FailTransmit = nil
		l.mu.Unlock()
		return err
	}
	if l.fifo == nil {
		l.mu.Unlock()
		return ErrFIFOSize
	}
	tx := Transmission{Channel: channel, SkipCCA: skipCCA, Frame: l.fifo}
	l.fifo = nil
	l.receiving = false
	l.sent = append(l.sent, tx)
	peer := l.peer
	l.mu.Unlock()

	if peer != nil {
		peer(tx)
	}
	return nil
}

// Entropy fills buf from the configured source.
func (l *Loopback) Entropy(buf []byte) error {
	l.mu.Lock()
	r := l.entropy
	l.mu.Unlock()
	_, err := io.ReadFull(r, buf)
	return err
}

// Inject queues a frame from the peer on channel. It is delivered at once
// when the device is listening there, otherwise on its next receive window.
func (l *Loopback) Inject(channel uint8, frame []byte) {
	frame = append([]byte(nil), frame...)
	l.mu.Lock()
	if l.receiving && l.channel == channel && l.handler != nil {
		h := l.handler
		l.mu.Unlock()
		h(frame)
		return
	}
	l.pending = append(l.pending, Transmission{Channel: channel, Frame: frame})
	l.mu.Unlock()
}

// Sent returns every frame transmitted so far.
func (l *Loopback) Sent() []Transmission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transmission(nil), l.sent...)
}

// Pending returns the number of injected frames not yet delivered.
func (l *Loopback) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Listening reports whether a receive window is open and on which channel.
func (l *Loopback) Listening() (bool, uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.receiving, l.channel
}
