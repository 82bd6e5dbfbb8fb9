// Package wire implements the Green Power Data Frame (GPDF) codec.
//
// # Frame Layout
//
// Every buffer handed to or received from the radio is length prefixed:
//
//	len | MAC header | NWK FC | [Ext NWK FC] | [SrcID | Endpoint] | [FrameCounter] | Cmd | Payload | [MIC]
//
// The length byte counts the MPDU including the two FCS bytes appended by
// the transceiver.
//
// # MAC Frame Control
//
//	0x0801  data, short broadcast destination, no source (source ID devices, maintenance frames)
//	0xc841  data, PAN ID compressed, extended source (IEEE devices, outbound)
//	0x8c41  data, PAN ID compressed, extended destination, short source (IEEE devices, inbound)
//
// # NWK Frame Control
//
//	bits 0-1  frame type (0 data, 1 maintenance)
//	bits 2-4  protocol version (3)
//	bit  6    auto-commissioning
//	bit  7    extended NWK frame control present
//
// # Extended NWK Frame Control
//
//	bits 0-2  application ID
//	bits 3-4  security level
//	bit  5    security key (individual key)
//	bit  6    rxAfterTx
//	bit  7    direction (0 from device, 1 to device)
//
// Bit fields are described once in tables of Field values shared by the
// encoder and the decoder.
package wire
