package device

import (
	"encoding/hex"
)

// Key is a 128-bit GPD security key.
type Key [KeySize]byte

// IsZero reports whether the key is all zeros.
func (k Key) IsZero() bool {
	return k == Key{}
}

// String returns the key as hex.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Radio holds the radio parameters of the device.
type Radio struct {
	Channel     uint8
	MinRxWindow uint8
	RxAfterTx   bool
	SkipCCA     bool
}

// Record is the device's identity, configuration and mutable
// security/commissioning state. A Record is owned by one execution context.
type Record struct {
	Address       Address
	SecurityLevel SecurityLevel
	KeyType       KeyType
	Key           Key
	FrameCounter  uint32
	Radio         Radio
	State         State

	cfg *Config
	key Key
}

// NewRecord creates a record populated from the configuration defaults.
func NewRecord(cfg *Config) (*Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	key, err := cfg.ResolveKey()
	if err != nil {
		return nil, err
	}
	r := &Record{cfg: cfg, key: key}
	r.ResetToDefaults()
	return r, nil
}

// Config returns the configuration the record was created from.
func (r *Record) Config() *Config {
	return r.cfg
}

// ResetToDefaults restores everything but the frame counter to the
// configured defaults.
func (r *Record) ResetToDefaults() {
	r.Address = r.cfg.Address()
	r.SecurityLevel = r.cfg.SecurityLevel
	r.KeyType = r.cfg.KeyType
	r.Key = r.key
	r.Radio = Radio{
		Channel:     r.cfg.RxChannel,
		MinRxWindow: r.cfg.MinRxWindow,
		RxAfterTx:   r.cfg.RxAfterTx,
		SkipCCA:     r.cfg.SkipCCA,
	}
	r.State = StateNotCommissioned
}

// NextFrameCounter advances the frame counter and returns the new value.
// The caller must persist the record before the value goes on the air.
func (r *Record) NextFrameCounter() uint32 {
	r.FrameCounter++
	return r.FrameCounter
}

// SequenceNumber returns the MAC sequence number derived from the counter.
func (r *Record) SequenceNumber() uint8 {
	return uint8(r.FrameCounter)
}
