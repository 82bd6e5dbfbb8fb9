// Package persistence stores the security-relevant subset of the device
// record across power cycles.
//
// The durable record is a fixed 32 byte blob:
//
//	offset  size  field
//	0       4     security frame counter (little endian)
//	4       16    security key
//	20      1     security level
//	21      1     security key type
//	22      1     operating channel
//	23      1     commissioning state
//	24      8     padding (zero)
//
// Everything not in the blob, such as the device address, comes from the
// configuration on every boot.
package persistence
