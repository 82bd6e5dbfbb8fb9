// Package device holds the Green Power Device record: its identity,
// configuration, security material and commissioning state.
//
// # Lifecycle
//
// A Record is created once at boot from a validated Config and then overlaid
// with the persisted security subset (see package persistence). It is mutated
// by the commissioning state machine and by successful security operations,
// and is never destroyed, only reset to its configured defaults when the
// device is decommissioned.
//
// # Addressing
//
// The application ID fixed in the configuration selects the addressing
// variant for the life of the device:
//   - 0b000: 32-bit source identifier
//   - 0b010: 8-byte IEEE address plus endpoint
//
// # Frame Counter
//
// The security frame counter is monotonically non-decreasing. It is advanced
// before every transmission and must be persisted before the new value is
// placed on the air. ResetToDefaults deliberately leaves it untouched.
package device
