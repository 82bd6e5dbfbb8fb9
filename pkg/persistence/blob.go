package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/greenpower/gpd-go/pkg/device"
)

// BlobSize is the fixed size of the persisted blob.
const BlobSize = 32

const (
	offCounter  = 0
	offKey      = 4
	offLevel    = offKey + device.KeySize
	offKeyType  = offLevel + 1
	offChannel  = offKeyType + 1
	offState    = offChannel + 1
	payloadSize = offState + 1
)

// Blob errors.
var (
	ErrBlobSize    = errors.New("persisted blob has wrong size")
	ErrBlobCorrupt = errors.New("persisted blob holds invalid values")
)

// Blob is the persisted byte layout.
type Blob [BlobSize]byte

// Encode captures the persisted subset of the record.
func Encode(rec *device.Record) Blob {
	var b Blob
	binary.LittleEndian.PutUint32(b[offCounter:], rec.FrameCounter)
	copy(b[offKey:offLevel], rec.Key[:])
	b[offLevel] = byte(rec.SecurityLevel)
	b[offKeyType] = byte(rec.KeyType)
	b[offChannel] = rec.Radio.Channel
	b[offState] = byte(rec.State)
	return b
}

// Decode parses a blob from raw bytes.
func Decode(data []byte) (Blob, error) {
	var b Blob
	if len(data) != BlobSize {
		return b, fmt.Errorf("%w: got %d bytes", ErrBlobSize, len(data))
	}
	copy(b[:], data)
	return b, nil
}

// FrameCounter returns the persisted frame counter.
func (b Blob) FrameCounter() uint32 {
	return binary.LittleEndian.Uint32(b[offCounter:])
}

// Apply overlays the blob onto the record. The record is left untouched when
// the blob holds values outside their valid range.
func (b Blob) Apply(rec *device.Record) error {
	level := device.SecurityLevel(b[offLevel])
	keyType := device.KeyType(b[offKeyType])
	channel := b[offChannel]
	state := device.State(b[offState])

	switch {
	case !level.Valid():
		return fmt.Errorf("%w: security level %d", ErrBlobCorrupt, level)
	case !keyType.Valid():
		return fmt.Errorf("%w: key type %d", ErrBlobCorrupt, keyType)
	case channel < device.MinChannel || channel > device.MaxChannel:
		return fmt.Errorf("%w: channel %d", ErrBlobCorrupt, channel)
	case !state.Valid():
		return fmt.Errorf("%w: state %d", ErrBlobCorrupt, state)
	}

	rec.FrameCounter = b.FrameCounter()
	copy(rec.Key[:], b[offKey:offLevel])
	rec.SecurityLevel = level
	rec.KeyType = keyType
	rec.Radio.Channel = channel
	rec.State = state
	return nil
}
