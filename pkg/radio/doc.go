// Package radio defines the 802.15.4 transceiver collaborator the device
// stack transmits and receives through, and provides two implementations:
//
//   - Serial drives a transceiver coprocessor attached over a UART using a
//     small length-prefixed command protocol.
//   - Loopback is an in-memory medium used by simulations and tests. Frames
//     injected by a peer are held until the device opens a receive window on
//     the matching channel.
//
// Every operation returns an error instead of halting so that callers choose
// the retry policy after a transient radio fault.
package radio
