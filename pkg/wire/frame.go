package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/shimmeringbee/zigbee"

	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/security"
)

// Protocol constants.
const (
	// ProtocolVersion is the GP protocol version carried in every NWK FC.
	ProtocolVersion = 3

	// MaxFrameSize is the largest MPDU including FCS.
	MaxFrameSize = 127

	// FCSSize is the number of checksum bytes the transceiver appends.
	FCSSize = 2
)

// FrameType is the GPDF frame type.
type FrameType uint8

const (
	FrameData        FrameType = 0
	FrameMaintenance FrameType = 1
)

// String returns the frame type name.
func (t FrameType) String() string {
	switch t {
	case FrameData:
		return "DATA"
	case FrameMaintenance:
		return "MAINTENANCE"
	default:
		return "UNKNOWN"
	}
}

// MAC frame control words.
const (
	MACShort          uint16 = 0x0801
	MACLongFromDevice uint16 = 0xc841
	MACLongToDevice   uint16 = 0x8c41

	broadcastPAN  uint16 = 0xffff
	broadcastAddr uint16 = 0xffff
)

type macLayout struct {
	length  int
	dstIEEE bool
	srcIEEE bool
}

var macLayouts = map[uint16]macLayout{
	MACShort:          {length: 7},
	MACLongFromDevice: {length: 15, srcIEEE: true},
	MACLongToDevice:   {length: 15, dstIEEE: true},
}

// Only these two words are accepted by a device.
var inboundLayouts = map[uint16]macLayout{
	MACShort:        macLayouts[MACShort],
	MACLongToDevice: macLayouts[MACLongToDevice],
}

// Frame is a decoded GPDF.
type Frame struct {
	Type              FrameType
	AutoCommissioning bool
	Extended          bool
	SecurityLevel     device.SecurityLevel
	SecurityKey       bool
	RxAfterTx         bool
	Direction         security.Direction
	Sequence          uint8
	Address           device.Address
	FrameCounter      uint32
	Command           uint8
	Payload           []byte

	// Authenticated header and still protected body of a parsed frame.
	header []byte
	body   []byte
}

// Sealed reports whether the frame still carries a protected payload.
func (f *Frame) Sealed() bool {
	return f.body != nil
}

// Open verifies and, for encrypted frames, decrypts a parsed frame, filling
// in Command and Payload.
func (f *Frame) Open(eng *security.Engine) error {
	if f.body == nil {
		return nil
	}
	plain, err := eng.Open(f.SecurityLevel, f.FrameCounter, f.Direction, f.header, f.body)
	if err != nil {
		return err
	}
	if len(plain) < 1 {
		return ErrTruncated
	}
	f.Command = plain[0]
	f.Payload = plain[1:]
	f.body = nil
	return nil
}

func (f *Frame) extendedNeeded() bool {
	if f.Type != FrameData {
		return false
	}
	return f.SecurityLevel != device.SecurityNone || f.RxAfterTx ||
		f.Address.AppID != device.AppIDSourceID || f.Direction == security.ToDevice
}

// Build encodes f into a length-prefixed buffer. eng is only used for
// secured frames.
func Build(f *Frame, eng *security.Engine) ([]byte, error) {
	switch {
	case f.Type > FrameMaintenance:
		return nil, fmt.Errorf("%w: frame type %d", ErrInvalidFrame, f.Type)
	case !f.SecurityLevel.Valid():
		return nil, fmt.Errorf("%w: security level %d", ErrInvalidFrame, f.SecurityLevel)
	case f.Type == FrameMaintenance && f.SecurityLevel != device.SecurityNone:
		return nil, fmt.Errorf("%w: maintenance frames are never secured", ErrInvalidFrame)
	case f.SecurityLevel.Secured() && eng == nil:
		return nil, fmt.Errorf("%w: secured frame without key", ErrInvalidFrame)
	}
	appID := f.Address.AppID

	buf := make([]byte, 1, MaxFrameSize+1)

	fc := MACShort
	if f.Type == FrameData && appID == device.AppIDIEEE {
		fc = MACLongFromDevice
		if f.Direction == security.ToDevice {
			fc = MACLongToDevice
		}
	}
	buf = binary.LittleEndian.AppendUint16(buf, fc)
	buf = append(buf, f.Sequence)
	buf = binary.LittleEndian.AppendUint16(buf, broadcastPAN)
	switch fc {
	case MACShort:
		buf = binary.LittleEndian.AppendUint16(buf, broadcastAddr)
	case MACLongFromDevice:
		buf = binary.LittleEndian.AppendUint16(buf, broadcastAddr)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(f.Address.IEEE))
	case MACLongToDevice:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(f.Address.IEEE))
		buf = binary.LittleEndian.AppendUint16(buf, 0x0000)
	}

	hdrStart := len(buf)
	ctrl := make([]byte, 2)
	ext := f.extendedNeeded()
	nwkFrameType.Set(ctrl, uint8(f.Type))
	nwkVersion.Set(ctrl, ProtocolVersion)
	nwkAutoComm.SetFlag(ctrl, f.AutoCommissioning)
	nwkExtPresent.SetFlag(ctrl, ext)
	buf = append(buf, ctrl[0])
	if ext {
		extAppID.Set(ctrl, uint8(appID))
		extSecLevel.Set(ctrl, uint8(f.SecurityLevel))
		extSecKey.SetFlag(ctrl, f.SecurityKey)
		extRxAfterTx.SetFlag(ctrl, f.RxAfterTx)
		extDirection.Set(ctrl, uint8(f.Direction))
		buf = append(buf, ctrl[1])
	}

	if f.Type == FrameData {
		if appID == device.AppIDIEEE {
			buf = append(buf, uint8(f.Address.Endpoint))
		} else {
			buf = binary.LittleEndian.AppendUint32(buf, f.Address.SourceID)
		}
	}
	if f.SecurityLevel.Secured() {
		buf = binary.LittleEndian.AppendUint32(buf, f.FrameCounter)
	}

	plain := make([]byte, 0, 1+len(f.Payload))
	plain = append(append(plain, f.Command), f.Payload...)
	if f.SecurityLevel.Secured() {
		header := append([]byte(nil), buf[hdrStart:]...)
		body, err := eng.Seal(f.SecurityLevel, f.FrameCounter, f.Direction, header, plain)
		if err != nil {
			return nil, err
		}
		buf = append(buf, body...)
	} else {
		buf = append(buf, plain...)
	}

	size := len(buf) - 1 + FCSSize
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, size)
	}
	buf[0] = byte(size)
	return buf, nil
}

// Parse decodes a frame of either direction without address checks or
// authentication. Secured frames must be opened with Frame.Open.
func Parse(buf []byte) (*Frame, error) {
	return parse(buf, macLayouts)
}

func dropped(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrDropped}, args...)...)
}

func truncated(what string) error {
	return fmt.Errorf("%w: %w: %s", ErrDropped, ErrTruncated, what)
}

func parse(buf []byte, layouts map[uint16]macLayout) (*Frame, error) {
	if len(buf) < 1 {
		return nil, truncated("length")
	}
	n := int(buf[0]) - FCSSize
	if n < 0 || n > len(buf)-1 {
		return nil, truncated("mpdu")
	}
	mpdu := buf[1 : 1+n]
	if len(mpdu) < 2 {
		return nil, truncated("mac frame control")
	}

	fc := binary.LittleEndian.Uint16(mpdu)
	layout, ok := layouts[fc]
	if !ok {
		return nil, dropped("mac frame control 0x%04x", fc)
	}
	if len(mpdu) < layout.length+1 {
		return nil, truncated("mac header")
	}

	f := &Frame{Sequence: mpdu[2]}
	var macIEEE uint64
	switch {
	case layout.dstIEEE:
		macIEEE = binary.LittleEndian.Uint64(mpdu[5:13])
	case layout.srcIEEE:
		macIEEE = binary.LittleEndian.Uint64(mpdu[7:15])
	}

	pos := layout.length
	hdrStart := pos
	ctrl := []byte{mpdu[pos], 0}
	pos++

	if v := nwkVersion.Get(ctrl); v != ProtocolVersion {
		return nil, dropped("protocol version %d", v)
	}
	if t := nwkFrameType.Get(ctrl); t > uint8(FrameMaintenance) {
		return nil, dropped("frame type %d", t)
	}
	f.Type = FrameType(nwkFrameType.Get(ctrl))
	f.AutoCommissioning = nwkAutoComm.Flag(ctrl)

	appID := device.AppIDSourceID
	if nwkExtPresent.Flag(ctrl) {
		if len(mpdu) <= pos {
			return nil, truncated("extended frame control")
		}
		ctrl[1] = mpdu[pos]
		pos++
		f.Extended = true
		appID = device.AppID(extAppID.Get(ctrl))
		f.SecurityLevel = device.SecurityLevel(extSecLevel.Get(ctrl))
		f.SecurityKey = extSecKey.Flag(ctrl)
		f.RxAfterTx = extRxAfterTx.Flag(ctrl)
		f.Direction = security.Direction(extDirection.Get(ctrl))
	}
	if f.RxAfterTx && f.AutoCommissioning {
		return nil, dropped("rxAfterTx with auto-commissioning")
	}
	f.Address.AppID = appID

	if f.Type == FrameData {
		switch appID {
		case device.AppIDSourceID:
			if len(mpdu) < pos+4 {
				return nil, truncated("source id")
			}
			f.Address.SourceID = binary.LittleEndian.Uint32(mpdu[pos:])
			pos += 4
		case device.AppIDIEEE:
			if !layout.dstIEEE && !layout.srcIEEE {
				return nil, dropped("ieee application id without extended mac address")
			}
			if len(mpdu) < pos+1 {
				return nil, truncated("endpoint")
			}
			f.Address.IEEE = zigbee.IEEEAddress(macIEEE)
			f.Address.Endpoint = zigbee.Endpoint(mpdu[pos])
			pos++
		default:
			return nil, dropped("application id %d", appID)
		}
	} else if f.SecurityLevel != device.SecurityNone {
		return nil, dropped("secured maintenance frame")
	}

	switch f.SecurityLevel {
	case device.SecurityNone:
	case device.SecurityAuth, device.SecurityEncrypted:
		if len(mpdu) < pos+4 {
			return nil, truncated("frame counter")
		}
		f.FrameCounter = binary.LittleEndian.Uint32(mpdu[pos:])
		pos += 4
	default:
		return nil, dropped("security level %d", f.SecurityLevel)
	}

	f.header = append([]byte(nil), mpdu[hdrStart:pos]...)
	rest := mpdu[pos:]
	if f.SecurityLevel.Secured() {
		if len(rest) < 1+security.MICSize {
			return nil, truncated("secured payload")
		}
		f.body = append([]byte(nil), rest...)
		return f, nil
	}
	if len(rest) < 1 {
		return nil, truncated("command")
	}
	f.Command = rest[0]
	f.Payload = append([]byte(nil), rest[1:]...)
	return f, nil
}

// Decode parses a frame received by the device described by rec. Frames
// the device must ignore are reported with an error wrapping ErrDropped;
// authentication failures additionally wrap security.ErrAuthFailed.
func Decode(rec *device.Record, eng *security.Engine, buf []byte) (*Frame, error) {
	f, err := parse(buf, inboundLayouts)
	if err != nil {
		return nil, err
	}
	if f.Extended && f.Direction != security.ToDevice {
		return nil, dropped("direction %s", f.Direction)
	}
	if f.Type == FrameData && !f.Address.Equal(rec.Address) {
		return nil, dropped("address %s", f.Address)
	}
	if f.Sealed() {
		if eng == nil {
			return nil, fmt.Errorf("%w: %w", ErrDropped, security.ErrAuthFailed)
		}
		if err := f.Open(eng); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDropped, err)
		}
	}
	return f, nil
}

// DataOptions control how the device encodes a data frame.
type DataOptions struct {
	SecurityLevel     device.SecurityLevel
	RxAfterTx         bool
	AutoCommissioning bool
}

// EncodeData builds a data frame sent by the device using the record's
// address, key type and current frame counter.
func EncodeData(rec *device.Record, eng *security.Engine, opts DataOptions, cmd uint8, payload []byte) ([]byte, error) {
	f := &Frame{
		Type:              FrameData,
		AutoCommissioning: opts.AutoCommissioning,
		SecurityLevel:     opts.SecurityLevel,
		SecurityKey:       rec.KeyType.Individual(),
		RxAfterTx:         opts.RxAfterTx,
		Direction:         security.FromDevice,
		Sequence:          rec.SequenceNumber(),
		Address:           rec.Address,
		FrameCounter:      rec.FrameCounter,
		Command:           cmd,
		Payload:           payload,
	}
	// Never open a receive window after announcing commissioning success.
	if cmd == CmdSuccess {
		f.RxAfterTx = false
	}
	return Build(f, eng)
}

// EncodeMaintenance builds an unsecured maintenance frame sent by the
// device. Auto-commissioning is the negation of rxAfterTx.
func EncodeMaintenance(rec *device.Record, rxAfterTx bool, cmd uint8, payload []byte) ([]byte, error) {
	seq := rec.SequenceNumber()
	// Sequence 0 reads as "no sequence" to the receiver's duplicate filter.
	if seq == 0 {
		seq = 1
	}
	f := &Frame{
		Type:              FrameMaintenance,
		AutoCommissioning: !rxAfterTx,
		Direction:         security.FromDevice,
		Sequence:          seq,
		Address:           rec.Address,
		Command:           cmd,
		Payload:           payload,
	}
	return Build(f, nil)
}
