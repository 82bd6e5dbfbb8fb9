package device

// SecurityLevel is the GPDF security level.
type SecurityLevel uint8

const (
	// SecurityNone sends frames without a counter or MIC.
	SecurityNone SecurityLevel = 0

	// SecurityReserved is the deprecated 1-byte counter / 2-byte MIC level.
	// It is never accepted.
	SecurityReserved SecurityLevel = 1

	// SecurityAuth authenticates the frame with a 4-byte MIC.
	SecurityAuth SecurityLevel = 2

	// SecurityEncrypted authenticates and encrypts the payload.
	SecurityEncrypted SecurityLevel = 3
)

// Valid reports whether the level may be used on the air.
func (l SecurityLevel) Valid() bool {
	return l == SecurityNone || l == SecurityAuth || l == SecurityEncrypted
}

// Secured reports whether frames at this level carry a counter and MIC.
func (l SecurityLevel) Secured() bool {
	return l >= SecurityAuth
}

// String returns the security level name.
func (l SecurityLevel) String() string {
	switch l {
	case SecurityNone:
		return "NONE"
	case SecurityReserved:
		return "RESERVED"
	case SecurityAuth:
		return "AUTH"
	case SecurityEncrypted:
		return "ENCRYPTED"
	default:
		return "UNKNOWN"
	}
}

// KeyType indicates which kind of key secures the device's frames.
type KeyType uint8

const (
	KeyTypeNone                KeyType = 0
	KeyTypeNetwork             KeyType = 1
	KeyTypeGroup               KeyType = 2
	KeyTypeNetworkDerivedGroup KeyType = 3
	KeyTypeOutOfBand           KeyType = 4
	KeyTypeDerived             KeyType = 7
)

// Valid reports whether the key type is one of the defined values.
func (k KeyType) Valid() bool {
	switch k {
	case KeyTypeNone, KeyTypeNetwork, KeyTypeGroup, KeyTypeNetworkDerivedGroup, KeyTypeOutOfBand, KeyTypeDerived:
		return true
	}
	return false
}

// Individual reports whether the key is specific to this device. This is the
// value of the security key bit in the extended NWK frame control.
func (k KeyType) Individual() bool {
	return k == KeyTypeOutOfBand || k == KeyTypeDerived
}

// String returns the key type name.
func (k KeyType) String() string {
	switch k {
	case KeyTypeNone:
		return "NO_KEY"
	case KeyTypeNetwork:
		return "NETWORK"
	case KeyTypeGroup:
		return "GROUP"
	case KeyTypeNetworkDerivedGroup:
		return "NETWORK_DERIVED_GROUP"
	case KeyTypeOutOfBand:
		return "OUT_OF_BAND"
	case KeyTypeDerived:
		return "DERIVED"
	default:
		return "UNKNOWN"
	}
}

// State is the commissioning state of the device.
type State uint8

const (
	StateNotCommissioned State = iota
	StateChannelRequest
	StateChannelReceived
	StateCommissioningRequest
	StateCommissioningReplyReceived
	StateCommissioningSuccessRequest
	StateOperational
	StateOperationalCommandRequest
	StateOperationalCommandReceived
)

// Valid reports whether the state is a defined value.
func (s State) Valid() bool {
	return s <= StateOperationalCommandReceived
}

// Commissioned reports whether the device has completed pairing.
func (s State) Commissioned() bool {
	return s >= StateOperational && s.Valid()
}

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotCommissioned:
		return "NOT_COMMISSIONED"
	case StateChannelRequest:
		return "CHANNEL_REQUEST"
	case StateChannelReceived:
		return "CHANNEL_RECEIVED"
	case StateCommissioningRequest:
		return "COMMISSIONING_REQUEST"
	case StateCommissioningReplyReceived:
		return "COMMISSIONING_REPLY_RECEIVED"
	case StateCommissioningSuccessRequest:
		return "COMMISSIONING_SUCCESS_REQUEST"
	case StateOperational:
		return "OPERATIONAL"
	case StateOperationalCommandRequest:
		return "OPERATIONAL_COMMAND_REQUEST"
	case StateOperationalCommandReceived:
		return "OPERATIONAL_COMMAND_RECEIVED"
	default:
		return "UNKNOWN"
	}
}
