// Package security implements GPDF frame protection with AES-128 CCM*.
//
// # Parameters
//
//   - Cipher: AES-128
//   - MIC: 4 bytes
//   - Nonce: 13 bytes (source address, frame counter, security control)
//
// # Levels
//
// Authentication-only frames keep their payload in clear and append a MIC
// computed over header and payload. Encrypted frames encrypt the payload in
// place and authenticate the header.
//
// # Nonce
//
// The source address part is the source ID twice for frames sent by the
// device, and four zero bytes followed by the source ID for frames sent to
// it. IEEE addressed devices use their IEEE address in both directions and
// flag frames sent to the device in the security control byte.
//
// # Key Transport
//
// A key carried in a commissioning frame can be wrapped: encrypted under the
// current key with the device address as additional data and an explicit
// security counter in the nonce.
package security
