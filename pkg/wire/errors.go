package wire

import "errors"

var (
	// ErrDropped is returned for frames the device must silently discard:
	// foreign MAC or NWK control values, address mismatches and failed
	// authentication.
	ErrDropped = errors.New("frame dropped")
	// ErrTruncated is returned when a buffer is too short for its fields.
	ErrTruncated = errors.New("frame truncated")
	// ErrTooLong is returned when an encoded frame exceeds the MAC limit.
	ErrTooLong = errors.New("frame exceeds maximum size")
	// ErrInvalidFrame is returned when frame parameters cannot be encoded.
	ErrInvalidFrame = errors.New("invalid frame parameters")
)
