// Package log provides structured protocol capture for the device stack.
//
// It is separate from operational logging (slog): a capture is a complete
// machine-readable trace of every frame the device sent, received or
// dropped, plus its commissioning state transitions.
//
//	// Console during development.
//	opts.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary file, read back with gpd-log.
//	opts.ProtocolLogger, _ = log.NewFileLogger("/var/log/gpd/device.gpdlog")
//
// Events are captured at three layers: raw radio bytes (FrameEvent), decoded
// GPDFs (CommandEvent) and the state machine (StateChangeEvent). Dropped
// inbound frames carry a DropEvent.
//
// Log files are a concatenation of CBOR encoded events. Raw frames longer
// than a radio can carry are clipped to MaxFrameCapture. With WithMaxSize
// the file rotates to RotatedPath and the Reader returns both in order.
package log
