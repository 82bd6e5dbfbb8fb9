package device

import (
	"encoding/binary"
	"fmt"

	"github.com/shimmeringbee/zigbee"
)

// AppID is the Green Power application identifier selecting the addressing mode.
type AppID uint8

const (
	// AppIDSourceID addresses the device by a 32-bit source identifier.
	AppIDSourceID AppID = 0b000

	// AppIDIEEE addresses the device by its IEEE address and an endpoint.
	AppIDIEEE AppID = 0b010
)

// String returns the application ID name.
func (a AppID) String() string {
	switch a {
	case AppIDSourceID:
		return "SRCID"
	case AppIDIEEE:
		return "IEEE"
	default:
		return "UNKNOWN"
	}
}

// Address identifies a GPD. Only the fields selected by AppID are meaningful.
type Address struct {
	AppID    AppID
	SourceID uint32
	IEEE     zigbee.IEEEAddress
	Endpoint zigbee.Endpoint
}

// Equal reports whether both addresses carry the same application ID and the
// same identifier fields for that ID.
func (a Address) Equal(b Address) bool {
	if a.AppID != b.AppID {
		return false
	}
	switch a.AppID {
	case AppIDSourceID:
		return a.SourceID == b.SourceID
	case AppIDIEEE:
		return a.IEEE == b.IEEE && a.Endpoint == b.Endpoint
	default:
		return false
	}
}

// Bytes returns the little-endian identifier: 4 bytes of source ID or
// 8 bytes of IEEE address.
func (a Address) Bytes() []byte {
	if a.AppID == AppIDIEEE {
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(a.IEEE))
		return b
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, a.SourceID)
	return b
}

// String returns a human-readable address.
func (a Address) String() string {
	if a.AppID == AppIDIEEE {
		return fmt.Sprintf("%s/%d", a.IEEE, a.Endpoint)
	}
	return fmt.Sprintf("0x%08x", a.SourceID)
}
