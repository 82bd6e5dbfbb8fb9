package log

import (
	"time"

	"github.com/google/uuid"
)

// Event is one protocol capture record.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies one run of the device stack (UUID).
	SessionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// Device is the GPD address in display form.
	Device string `cbor:"6,keyasint,omitempty"`

	// Channel is the radio channel the frame used, 0 when not applicable.
	Channel uint8 `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Radio layer
	Command     *CommandEvent     `cbor:"11,keyasint,omitempty"` // Frame layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Commissioning state
	Drop        *DropEvent        `cbor:"13,keyasint,omitempty"` // Ignored inbound frame
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Direction indicates the direction of frame flow relative to the device.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which part of the stack captured the event.
type Layer uint8

const (
	// LayerRadio is raw frame bytes as handed to or received from the radio.
	LayerRadio Layer = 0
	// LayerFrame is the decoded GPDF.
	LayerFrame Layer = 1
	// LayerDevice is the commissioning state machine.
	LayerDevice Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerRadio:
		return "RADIO"
	case LayerFrame:
		return "FRAME"
	case LayerDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryDrop    Category = 1
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryDrop:
		return "DROP"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame bytes.
type FrameEvent struct {
	// Size is the frame size in bytes including the length byte.
	Size int    `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated is set when Data was clipped to MaxFrameCapture.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// CommandEvent captures a decoded GPDF.
type CommandEvent struct {
	FrameType     uint8  `cbor:"1,keyasint"`
	Command       uint8  `cbor:"2,keyasint"`
	Name          string `cbor:"3,keyasint,omitempty"`
	SecurityLevel uint8  `cbor:"4,keyasint,omitempty"`
	FrameCounter  uint32 `cbor:"5,keyasint,omitempty"`
	Sequence      uint8  `cbor:"6,keyasint,omitempty"`
	RxAfterTx     bool   `cbor:"7,keyasint,omitempty"`
	Payload       []byte `cbor:"8,keyasint,omitempty"`
}

// StateChangeEvent captures a commissioning state transition.
type StateChangeEvent struct {
	OldState string `cbor:"1,keyasint,omitempty"`
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// DropEvent records why an inbound frame was ignored.
type DropEvent struct {
	Reason string `cbor:"1,keyasint"`

	// AuthFailure is set when the frame failed CCM* verification.
	AuthFailure bool `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
