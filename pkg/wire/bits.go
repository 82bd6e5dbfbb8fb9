package wire

// Field locates a bit field inside a group of control bytes.
type Field struct {
	Offset uint8 // byte index within the group
	Shift  uint8 // position of the least significant bit
	Width  uint8 // number of bits
}

func (f Field) mask() uint8 {
	return uint8(1<<f.Width-1) << f.Shift
}

// Get extracts the field value from b.
func (f Field) Get(b []byte) uint8 {
	return (b[f.Offset] & f.mask()) >> f.Shift
}

// Set stores v in the field, discarding bits that do not fit.
func (f Field) Set(b []byte, v uint8) {
	b[f.Offset] = b[f.Offset]&^f.mask() | (v<<f.Shift)&f.mask()
}

// Flag reports whether a one bit field is set.
func (f Field) Flag(b []byte) bool {
	return f.Get(b) != 0
}

// SetFlag stores a boolean in a one bit field.
func (f Field) SetFlag(b []byte, v bool) {
	if v {
		f.Set(b, 1)
	} else {
		f.Set(b, 0)
	}
}

// NWK control group: byte 0 is the NWK frame control, byte 1 the extended
// NWK frame control.
var (
	nwkFrameType  = Field{Offset: 0, Shift: 0, Width: 2}
	nwkVersion    = Field{Offset: 0, Shift: 2, Width: 3}
	nwkAutoComm   = Field{Offset: 0, Shift: 6, Width: 1}
	nwkExtPresent = Field{Offset: 0, Shift: 7, Width: 1}
	extAppID      = Field{Offset: 1, Shift: 0, Width: 3}
	extSecLevel   = Field{Offset: 1, Shift: 3, Width: 2}
	extSecKey     = Field{Offset: 1, Shift: 5, Width: 1}
	extRxAfterTx  = Field{Offset: 1, Shift: 6, Width: 1}
	extDirection  = Field{Offset: 1, Shift: 7, Width: 1}
)

// Commissioning options group: byte 0 options, byte 1 extended options.
var (
	optMACSeq         = Field{Offset: 0, Shift: 0, Width: 1}
	optRxOn           = Field{Offset: 0, Shift: 1, Width: 1}
	optAppInfo        = Field{Offset: 0, Shift: 2, Width: 1}
	optPANIDRequest   = Field{Offset: 0, Shift: 4, Width: 1}
	optKeyRequest     = Field{Offset: 0, Shift: 5, Width: 1}
	optFixedLocation  = Field{Offset: 0, Shift: 6, Width: 1}
	optExtPresent     = Field{Offset: 0, Shift: 7, Width: 1}
	extOptSecLevel    = Field{Offset: 1, Shift: 0, Width: 2}
	extOptKeyType     = Field{Offset: 1, Shift: 2, Width: 3}
	extOptKeyPresent  = Field{Offset: 1, Shift: 5, Width: 1}
	extOptKeyEncrypt  = Field{Offset: 1, Shift: 6, Width: 1}
	extOptCounterPres = Field{Offset: 1, Shift: 7, Width: 1}
)

// Application information options.
var (
	appInfoManufacturer = Field{Offset: 0, Shift: 0, Width: 1}
	appInfoModel        = Field{Offset: 0, Shift: 1, Width: 1}
	appInfoCommands     = Field{Offset: 0, Shift: 2, Width: 1}
	appInfoClusters     = Field{Offset: 0, Shift: 3, Width: 1}
	appInfoSwitch       = Field{Offset: 0, Shift: 4, Width: 1}
	appInfoDescFollows  = Field{Offset: 0, Shift: 5, Width: 1}
	clusterServerCount  = Field{Offset: 0, Shift: 0, Width: 4}
	clusterClientCount  = Field{Offset: 0, Shift: 4, Width: 4}
)

// Commissioning reply options.
var (
	replyPANIDPresent = Field{Offset: 0, Shift: 0, Width: 1}
	replyKeyPresent   = Field{Offset: 0, Shift: 1, Width: 1}
	replyKeyEncrypt   = Field{Offset: 0, Shift: 2, Width: 1}
	replySecLevel     = Field{Offset: 0, Shift: 3, Width: 2}
	replyKeyType      = Field{Offset: 0, Shift: 5, Width: 3}
)

// Channel request toggling and channel configuration.
var (
	chanNext       = Field{Offset: 0, Shift: 0, Width: 4}
	chanSecondNext = Field{Offset: 0, Shift: 4, Width: 4}
	chanOperating  = Field{Offset: 0, Shift: 0, Width: 4}
	chanBasic      = Field{Offset: 0, Shift: 4, Width: 1}
)
