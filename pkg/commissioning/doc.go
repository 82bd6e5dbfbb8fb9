// Package commissioning drives a Green Power Device through pairing with a
// Proxy/Sink and carries its operational traffic afterwards.
//
// # Overview
//
// A Device owns one device.Record and advances it one unit of work per call
// to Step. The caller owns the loop and any pacing between steps; the
// package has no timers. Inbound frames arrive asynchronously through
// Deliver, which only enqueues them; they are decoded and applied at the
// start of the next Step, so the record is only ever mutated from the
// stepping goroutine.
//
// # Bidirectional Flow
//
//  1. NOT_COMMISSIONED: switch to CHANNEL_REQUEST.
//  2. CHANNEL_REQUEST: sweep every configured channel with maintenance
//     channel requests (auto-commissioning set, no receive window), then
//     repeat the request on the receive channel with a receive window open.
//     A channel configuration moves the device to CHANNEL_RECEIVED.
//  3. CHANNEL_RECEIVED: switch to COMMISSIONING_REQUEST.
//  4. COMMISSIONING_REQUEST: send commissioning requests with a receive
//     window, optionally preceded by application description frames. A
//     valid commissioning reply installs the new security material and
//     moves to COMMISSIONING_REPLY_RECEIVED.
//  5. COMMISSIONING_REPLY_RECEIVED and COMMISSIONING_SUCCESS_REQUEST: send
//     success, then become OPERATIONAL.
//
// Exhausted budgets fall back to CHANNEL_RECEIVED or NOT_COMMISSIONED.
//
// # Unidirectional Flow
//
// Without a responding peer the device skips the channel phase, sends an
// unsecured commissioning request and considers itself OPERATIONAL.
//
// # Frame Counter
//
// The counter is advanced and persisted before every transmission. A frame
// is never put on the air when persisting fails.
package commissioning
