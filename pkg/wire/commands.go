package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/greenpower/gpd-go/pkg/device"
	"github.com/greenpower/gpd-go/pkg/security"
)

// GPDF command identifiers.
const (
	CmdCommissioning          uint8 = 0xe0
	CmdDecommissioning        uint8 = 0xe1
	CmdSuccess                uint8 = 0xe2
	CmdChannelRequest         uint8 = 0xe3
	CmdApplicationDescription uint8 = 0xe4
	CmdCommissioningReply     uint8 = 0xf0
	CmdChannelConfiguration   uint8 = 0xf3
)

// CommandName returns a human-readable command name.
func CommandName(cmd uint8) string {
	switch cmd {
	case CmdCommissioning:
		return "Commissioning"
	case CmdDecommissioning:
		return "Decommissioning"
	case CmdSuccess:
		return "Success"
	case CmdChannelRequest:
		return "ChannelRequest"
	case CmdApplicationDescription:
		return "ApplicationDescription"
	case CmdCommissioningReply:
		return "CommissioningReply"
	case CmdChannelConfiguration:
		return "ChannelConfiguration"
	default:
		return fmt.Sprintf("Command(0x%02x)", cmd)
	}
}

func channelNibble(ch uint8) uint8 {
	return ch - device.MinChannel
}

// ChannelRequest carries the channels the device will listen on next.
type ChannelRequest struct {
	Next       uint8
	SecondNext uint8
}

// Encode returns the 1 byte toggling payload.
func (c ChannelRequest) Encode() []byte {
	b := make([]byte, 1)
	chanNext.Set(b, channelNibble(c.Next))
	chanSecondNext.Set(b, channelNibble(c.SecondNext))
	return b
}

// DecodeChannelRequest parses a channel request payload.
func DecodeChannelRequest(p []byte) (ChannelRequest, error) {
	if len(p) < 1 {
		return ChannelRequest{}, ErrTruncated
	}
	return ChannelRequest{
		Next:       chanNext.Get(p) + device.MinChannel,
		SecondNext: chanSecondNext.Get(p) + device.MinChannel,
	}, nil
}

// ChannelConfiguration assigns the operating channel.
type ChannelConfiguration struct {
	Channel uint8
	Basic   bool
}

// Encode returns the 1 byte payload.
func (c ChannelConfiguration) Encode() []byte {
	b := make([]byte, 1)
	chanOperating.Set(b, channelNibble(c.Channel))
	chanBasic.SetFlag(b, c.Basic)
	return b
}

// DecodeChannelConfiguration parses a channel configuration payload.
func DecodeChannelConfiguration(p []byte) (ChannelConfiguration, error) {
	if len(p) < 1 {
		return ChannelConfiguration{}, ErrTruncated
	}
	return ChannelConfiguration{
		Channel: chanOperating.Get(p) + device.MinChannel,
		Basic:   chanBasic.Flag(p),
	}, nil
}

// ApplicationInfo is the optional application information block of a
// commissioning request.
type ApplicationInfo struct {
	ManufacturerID  *uint16
	ModelID         *uint16
	Commands        []uint8
	ServerClusters  []uint16
	ClientClusters  []uint16
	Switch          *SwitchInfo
	DescriptionNext bool
}

// SwitchInfo describes a switch device's contacts.
type SwitchInfo struct {
	Config        uint8
	ContactStatus uint8
}

// Commissioning is the payload of the commissioning command.
type Commissioning struct {
	DeviceID         uint8
	MACSeqCapability bool
	RxOnCapability   bool
	PANIDRequest     bool
	KeyRequest       bool
	FixedLocation    bool

	SecurityLevel device.SecurityLevel
	KeyType       device.KeyType

	// Key is the 16 byte key, or 20 bytes (key and MIC) when KeyEncrypted.
	Key          []byte
	KeyEncrypted bool

	OutgoingCounter *uint32
	AppInfo         *ApplicationInfo
}

func (c *Commissioning) extended() bool {
	return c.SecurityLevel != device.SecurityNone || c.KeyType != device.KeyTypeNone ||
		c.Key != nil || c.OutgoingCounter != nil
}

func keyLength(encrypted bool) int {
	if encrypted {
		return security.WrappedKeySize
	}
	return device.KeySize
}

// Encode returns the commissioning payload.
func (c *Commissioning) Encode() ([]byte, error) {
	if c.Key != nil && len(c.Key) != keyLength(c.KeyEncrypted) {
		return nil, fmt.Errorf("%w: key length %d", ErrInvalidFrame, len(c.Key))
	}
	opts := make([]byte, 2)
	optMACSeq.SetFlag(opts, c.MACSeqCapability)
	optRxOn.SetFlag(opts, c.RxOnCapability)
	optAppInfo.SetFlag(opts, c.AppInfo != nil)
	optPANIDRequest.SetFlag(opts, c.PANIDRequest)
	optKeyRequest.SetFlag(opts, c.KeyRequest)
	optFixedLocation.SetFlag(opts, c.FixedLocation)
	optExtPresent.SetFlag(opts, c.extended())

	out := []byte{c.DeviceID, opts[0]}
	if c.extended() {
		extOptSecLevel.Set(opts, uint8(c.SecurityLevel))
		extOptKeyType.Set(opts, uint8(c.KeyType))
		extOptKeyPresent.SetFlag(opts, c.Key != nil)
		extOptKeyEncrypt.SetFlag(opts, c.KeyEncrypted)
		extOptCounterPres.SetFlag(opts, c.OutgoingCounter != nil)
		out = append(out, opts[1])
		out = append(out, c.Key...)
		if c.OutgoingCounter != nil {
			out = binary.LittleEndian.AppendUint32(out, *c.OutgoingCounter)
		}
	}
	if c.AppInfo != nil {
		var err error
		if out, err = c.AppInfo.append(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (a *ApplicationInfo) append(out []byte) ([]byte, error) {
	if len(a.ServerClusters) > 15 || len(a.ClientClusters) > 15 {
		return nil, fmt.Errorf("%w: too many clusters", ErrInvalidFrame)
	}
	opts := make([]byte, 1)
	appInfoManufacturer.SetFlag(opts, a.ManufacturerID != nil)
	appInfoModel.SetFlag(opts, a.ModelID != nil)
	appInfoCommands.SetFlag(opts, len(a.Commands) > 0)
	appInfoClusters.SetFlag(opts, len(a.ServerClusters)+len(a.ClientClusters) > 0)
	appInfoSwitch.SetFlag(opts, a.Switch != nil)
	appInfoDescFollows.SetFlag(opts, a.DescriptionNext)
	out = append(out, opts[0])

	if a.ManufacturerID != nil {
		out = binary.LittleEndian.AppendUint16(out, *a.ManufacturerID)
	}
	if a.ModelID != nil {
		out = binary.LittleEndian.AppendUint16(out, *a.ModelID)
	}
	if len(a.Commands) > 0 {
		out = append(out, uint8(len(a.Commands)))
		out = append(out, a.Commands...)
	}
	if len(a.ServerClusters)+len(a.ClientClusters) > 0 {
		counts := make([]byte, 1)
		clusterServerCount.Set(counts, uint8(len(a.ServerClusters)))
		clusterClientCount.Set(counts, uint8(len(a.ClientClusters)))
		out = append(out, counts[0])
		for _, id := range a.ServerClusters {
			out = binary.LittleEndian.AppendUint16(out, id)
		}
		for _, id := range a.ClientClusters {
			out = binary.LittleEndian.AppendUint16(out, id)
		}
	}
	if a.Switch != nil {
		out = append(out, 2, a.Switch.Config, a.Switch.ContactStatus)
	}
	return out, nil
}

// reader walks a payload, recording the first out-of-bounds access.
type reader struct {
	p   []byte
	pos int
	err error
}

func (r *reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.p) < r.pos+n {
		r.err = fmt.Errorf("%w: %s", ErrTruncated, what)
		return nil
	}
	b := r.p[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u8(what string) uint8 {
	if b := r.take(1, what); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16(what string) uint16 {
	if b := r.take(2, what); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32(what string) uint32 {
	if b := r.take(4, what); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// DecodeCommissioning parses a commissioning payload.
func DecodeCommissioning(p []byte) (*Commissioning, error) {
	r := &reader{p: p}
	c := &Commissioning{DeviceID: r.u8("device id")}
	opts := []byte{r.u8("options"), 0}
	if r.err != nil {
		return nil, r.err
	}
	c.MACSeqCapability = optMACSeq.Flag(opts)
	c.RxOnCapability = optRxOn.Flag(opts)
	c.PANIDRequest = optPANIDRequest.Flag(opts)
	c.KeyRequest = optKeyRequest.Flag(opts)
	c.FixedLocation = optFixedLocation.Flag(opts)

	if optExtPresent.Flag(opts) {
		opts[1] = r.u8("extended options")
		c.SecurityLevel = device.SecurityLevel(extOptSecLevel.Get(opts))
		c.KeyType = device.KeyType(extOptKeyType.Get(opts))
		c.KeyEncrypted = extOptKeyEncrypt.Flag(opts)
		if extOptKeyPresent.Flag(opts) {
			c.Key = append([]byte(nil), r.take(keyLength(c.KeyEncrypted), "key")...)
		}
		if extOptCounterPres.Flag(opts) {
			v := r.u32("outgoing counter")
			c.OutgoingCounter = &v
		}
	}
	if optAppInfo.Flag(opts) {
		c.AppInfo = decodeAppInfo(r)
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

func decodeAppInfo(r *reader) *ApplicationInfo {
	a := &ApplicationInfo{}
	opts := []byte{r.u8("application info options")}
	if appInfoManufacturer.Flag(opts) {
		v := r.u16("manufacturer id")
		a.ManufacturerID = &v
	}
	if appInfoModel.Flag(opts) {
		v := r.u16("model id")
		a.ModelID = &v
	}
	if appInfoCommands.Flag(opts) {
		n := int(r.u8("command count"))
		a.Commands = append([]uint8(nil), r.take(n, "commands")...)
	}
	if appInfoClusters.Flag(opts) {
		counts := []byte{r.u8("cluster counts")}
		for i := 0; i < int(clusterServerCount.Get(counts)); i++ {
			a.ServerClusters = append(a.ServerClusters, r.u16("server cluster"))
		}
		for i := 0; i < int(clusterClientCount.Get(counts)); i++ {
			a.ClientClusters = append(a.ClientClusters, r.u16("client cluster"))
		}
	}
	if appInfoSwitch.Flag(opts) {
		n := int(r.u8("switch info length"))
		info := r.take(n, "switch info")
		if len(info) >= 2 {
			a.Switch = &SwitchInfo{Config: info[0], ContactStatus: info[1]}
		}
	}
	a.DescriptionNext = appInfoDescFollows.Flag(opts)
	return a
}

// CommissioningReply is the payload of the commissioning reply command.
type CommissioningReply struct {
	PANID         *uint16
	SecurityLevel device.SecurityLevel
	KeyType       device.KeyType

	// Key is the 16 byte key, or 20 bytes (key and MIC) when KeyEncrypted.
	Key          []byte
	KeyEncrypted bool

	// FrameCounter is the explicit security counter of an encrypted key.
	FrameCounter uint32
}

// Encode returns the commissioning reply payload.
func (c *CommissioningReply) Encode() ([]byte, error) {
	if c.Key != nil && len(c.Key) != keyLength(c.KeyEncrypted) {
		return nil, fmt.Errorf("%w: key length %d", ErrInvalidFrame, len(c.Key))
	}
	if c.KeyEncrypted && c.Key == nil {
		return nil, fmt.Errorf("%w: encrypted flag without key", ErrInvalidFrame)
	}
	opts := make([]byte, 1)
	replyPANIDPresent.SetFlag(opts, c.PANID != nil)
	replyKeyPresent.SetFlag(opts, c.Key != nil)
	replyKeyEncrypt.SetFlag(opts, c.KeyEncrypted)
	replySecLevel.Set(opts, uint8(c.SecurityLevel))
	replyKeyType.Set(opts, uint8(c.KeyType))

	out := []byte{opts[0]}
	if c.PANID != nil {
		out = binary.LittleEndian.AppendUint16(out, *c.PANID)
	}
	out = append(out, c.Key...)
	if c.KeyEncrypted {
		out = binary.LittleEndian.AppendUint32(out, c.FrameCounter)
	}
	return out, nil
}

// DecodeCommissioningReply parses a commissioning reply payload.
func DecodeCommissioningReply(p []byte) (*CommissioningReply, error) {
	r := &reader{p: p}
	opts := []byte{r.u8("options")}
	if r.err != nil {
		return nil, r.err
	}
	c := &CommissioningReply{
		SecurityLevel: device.SecurityLevel(replySecLevel.Get(opts)),
		KeyType:       device.KeyType(replyKeyType.Get(opts)),
		KeyEncrypted:  replyKeyEncrypt.Flag(opts),
	}
	if replyPANIDPresent.Flag(opts) {
		v := r.u16("pan id")
		c.PANID = &v
	}
	if replyKeyPresent.Flag(opts) {
		c.Key = append([]byte(nil), r.take(keyLength(c.KeyEncrypted), "key")...)
		if c.KeyEncrypted {
			c.FrameCounter = r.u32("frame counter")
		}
	} else if c.KeyEncrypted {
		return nil, fmt.Errorf("%w: encrypted flag without key", ErrInvalidFrame)
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}
