package security

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/dtls/v2/pkg/crypto/ccm"

	"github.com/greenpower/gpd-go/pkg/device"
)

// CCM* parameters.
const (
	MICSize   = 4
	NonceSize = 13

	// WrappedKeySize is the size of a wrapped key including its MIC.
	WrappedKeySize = device.KeySize + MICSize

	securityControl         = 0x05
	securityControlIncoming = 0xc5
)

// Security errors.
var (
	ErrAuthFailed    = errors.New("authentication failed")
	ErrSecurityLevel = errors.New("unsupported security level")
	ErrShortFrame    = errors.New("secured frame too short")
)

// Direction is the direction of a frame relative to the device.
type Direction uint8

const (
	// FromDevice is a frame sent by the GPD.
	FromDevice Direction = 0
	// ToDevice is a frame sent to the GPD by a proxy or sink.
	ToDevice Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	if d == ToDevice {
		return "TO_DEVICE"
	}
	return "FROM_DEVICE"
}

// Engine protects frames for one device address under one key.
type Engine struct {
	addr device.Address
	aead ccm.CCM
}

// New creates an engine for addr keyed with key.
func New(key device.Key, addr device.Address) (*Engine, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := ccm.NewCCM(block, MICSize, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("ccm: %w", err)
	}
	return &Engine{addr: addr, aead: aead}, nil
}

// ForRecord creates an engine from the record's current key and address.
func ForRecord(rec *device.Record) (*Engine, error) {
	return New(rec.Key, rec.Address)
}

// Nonce builds the CCM* nonce for a frame counter and direction.
func (e *Engine) Nonce(counter uint32, dir Direction) []byte {
	nonce := make([]byte, NonceSize)
	control := byte(securityControl)

	switch e.addr.AppID {
	case device.AppIDIEEE:
		binary.LittleEndian.PutUint64(nonce[0:8], uint64(e.addr.IEEE))
		if dir == ToDevice {
			control = securityControlIncoming
		}
	default:
		if dir == FromDevice {
			binary.LittleEndian.PutUint32(nonce[0:4], e.addr.SourceID)
		}
		binary.LittleEndian.PutUint32(nonce[4:8], e.addr.SourceID)
	}
	binary.LittleEndian.PutUint32(nonce[8:12], counter)
	nonce[12] = control
	return nonce
}

// Seal protects payload at the given level. header is the authenticated
// clear-text part of the frame. The result replaces the payload on the wire
// and includes the MIC.
func (e *Engine) Seal(level device.SecurityLevel, counter uint32, dir Direction, header, payload []byte) ([]byte, error) {
	nonce := e.Nonce(counter, dir)

	switch level {
	case device.SecurityAuth:
		aad := make([]byte, 0, len(header)+len(payload))
		aad = append(append(aad, header...), payload...)
		mic := e.aead.Seal(nil, nonce, nil, aad)
		out := make([]byte, 0, len(payload)+MICSize)
		return append(append(out, payload...), mic...), nil
	case device.SecurityEncrypted:
		return e.aead.Seal(nil, nonce, payload, header), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrSecurityLevel, level)
	}
}

// Open verifies body (payload followed by MIC) and returns the clear-text
// payload. ErrAuthFailed is returned on MIC mismatch.
func (e *Engine) Open(level device.SecurityLevel, counter uint32, dir Direction, header, body []byte) ([]byte, error) {
	if len(body) < MICSize {
		return nil, ErrShortFrame
	}
	nonce := e.Nonce(counter, dir)

	switch level {
	case device.SecurityAuth:
		payload := body[:len(body)-MICSize]
		aad := make([]byte, 0, len(header)+len(payload))
		aad = append(append(aad, header...), payload...)
		mic := e.aead.Seal(nil, nonce, nil, aad)
		if subtle.ConstantTimeCompare(mic, body[len(payload):]) != 1 {
			return nil, ErrAuthFailed
		}
		return append([]byte(nil), payload...), nil
	case device.SecurityEncrypted:
		plain, err := e.aead.Open(nil, nonce, body, header)
		if err != nil {
			return nil, ErrAuthFailed
		}
		return plain, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrSecurityLevel, level)
	}
}

// WrapKey encrypts key for transport in a commissioning frame.
func (e *Engine) WrapKey(key device.Key, counter uint32, dir Direction) []byte {
	return e.aead.Seal(nil, e.Nonce(counter, dir), key[:], e.addr.Bytes())
}

// UnwrapKey decrypts and verifies a wrapped key.
func (e *Engine) UnwrapKey(wrapped []byte, counter uint32, dir Direction) (device.Key, error) {
	var key device.Key
	if len(wrapped) != WrappedKeySize {
		return key, ErrShortFrame
	}
	plain, err := e.aead.Open(nil, e.Nonce(counter, dir), wrapped, e.addr.Bytes())
	if err != nil {
		return key, ErrAuthFailed
	}
	copy(key[:], plain)
	return key, nil
}
