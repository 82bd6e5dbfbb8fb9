package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameCapture bounds the raw bytes kept per radio event: the PHY
// length byte plus the largest 802.15.4 PSDU. Anything beyond it did not
// come off a real radio and is clipped.
const MaxFrameCapture = 1 + 127

var (
	captureEnc cbor.EncMode
	captureDec cbor.DecMode
)

func init() {
	var err error

	captureEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture CBOR encoder: %v", err))
	}

	// Events are two maps deep with a handful of integer keys, so the
	// decoder limits stay tight. A corrupt capture fails fast instead of
	// allocating.
	captureDec, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		TagsMd:          cbor.TagsForbidden,
		MaxNestedLevels: 8,
		MaxMapPairs:     32,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture CBOR decoder: %v", err))
	}
}

// clip returns event with oversized raw frame data cut to MaxFrameCapture.
// Size keeps the original length.
func clip(event Event) Event {
	if event.Frame == nil || len(event.Frame.Data) <= MaxFrameCapture {
		return event
	}
	fe := *event.Frame
	fe.Data = fe.Data[:MaxFrameCapture]
	fe.Truncated = true
	event.Frame = &fe
	return event
}

// EncodeEvent encodes an Event to CBOR.
func EncodeEvent(event Event) ([]byte, error) {
	return captureEnc.Marshal(clip(event))
}

// DecodeEvent decodes one CBOR encoded Event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := captureDec.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Decoder reads consecutive events from a capture stream.
type Decoder struct {
	dec *cbor.Decoder
}

// NewDecoder reads events from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: captureDec.NewDecoder(r)}
}

// Decode returns the next event or io.EOF at a clean end of stream.
func (d *Decoder) Decode() (Event, error) {
	var event Event
	if err := d.dec.Decode(&event); err != nil {
		return Event{}, err
	}
	return event, nil
}
